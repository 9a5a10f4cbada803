// Package healthcheck periodically probes downstream services and records
// whether each one answers its health endpoint. The results feed the gateway
// /health endpoint; they never gate calls, which is the circuit breaker's job.
package healthcheck
