// Package circuitbreaker keeps one circuit breaker per downstream service.
//
// A circuit breaker stops calling a failing service for a cooldown period and
// then cautiously re-tests it. It has three states:
//
//   - CLOSED: calls pass through; consecutive failures are counted
//   - OPEN: calls are rejected immediately with ErrCircuitOpen
//   - HALF_OPEN: a bounded number of trial calls test whether the service recovered
//
// The state machine is provided by github.com/sony/gobreaker/v2. Breakers are
// created lazily on the first Execute for a name and live as long as the
// registry.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultSettings())
//	body, err := circuitbreaker.Call(registry, "crm", func() ([]byte, error) {
//	    return fetch(ctx)
//	})
//	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
//	    // rejected without touching the network
//	}
package circuitbreaker
