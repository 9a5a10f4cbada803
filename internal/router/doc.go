// Package router is the single entry point for calls to downstream services.
//
// Router.Call combines the client pool, the per-service circuit breaker and
// the response cache:
//
//  1. resolve the service client (unconfigured services fail here, before the
//     breaker or the cache is touched)
//  2. for cacheable GET calls, return a cached response when present
//  3. run the HTTP call through the breaker under a timeout that cancels the
//     in-flight request
//  4. cache successful GET responses tagged with the service name
//
// Every failure is returned as an *UnavailableError. Callers check
// errors.Is(err, ErrServiceUnavailable) and need not care whether the cause was
// a timeout, an open circuit or a 5xx; the Kind field keeps the distinction for
// logs and metrics.
package router
