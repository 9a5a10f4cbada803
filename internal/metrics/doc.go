// Package metrics collects per-service metrics for the gateway.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Request counts per downstream service
//   - Cache hits and misses
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Failures by kind (timeout, circuit_open, downstream, ...)
//   - Circuit breaker state and health status
//
// The collector runs in a dedicated goroutine and processes events without blocking
// the request path. Emit drops the event when the buffer is full rather than
// waiting.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Service:    "crm",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
//
// Events can also be forwarded to a DogStatsD agent with WithStatsd.
package metrics
