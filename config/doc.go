// Package config handles loading and validation of the router configuration
// from YAML files, a local .env file and environment variables. It defines the
// downstream service table, the endpoint timeout rules, circuit breaker and
// cache settings, and the logging and metrics options.
package config
