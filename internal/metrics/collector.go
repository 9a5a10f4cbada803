package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventCacheHit          EventType = "cache_hit"
	EventCacheMiss         EventType = "cache_miss"
	EventResponseCompleted EventType = "response_completed"
	EventCallFailed        EventType = "call_failed"
	EventCircuitChanged    EventType = "circuit_changed"
	EventHealthChanged     EventType = "health_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Endpoint   string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	// Reason is the failure kind for EventCallFailed and the new state for
	// EventCircuitChanged.
	Reason string
}

// Emitter accepts metric events without blocking.
type Emitter interface {
	Emit(event MetricEvent)
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	statsd  statsd.ClientInterface
	done    chan struct{}
}

type Option func(*Collector)

// WithStatsd forwards every processed event to a DogStatsD client.
func WithStatsd(client statsd.ClientInterface) Option {
	return func(c *Collector) {
		c.statsd = client
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event, dropping it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metrics buffer full, event dropped",
			slog.String("type", string(event.Type)),
			slog.String("service", event.Service))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after shutdown.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			if c.statsd != nil {
				if err := c.statsd.Flush(); err != nil {
					c.logger.Warn("statsd flush failed", slog.String("error", err.Error()))
				}
			}
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Service)

	case EventCacheHit:
		c.metrics.RecordCacheLookup(event.Service, true)

	case EventCacheMiss:
		c.metrics.RecordCacheLookup(event.Service, false)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Service, event.Duration, event.StatusCode)

	case EventCallFailed:
		c.metrics.RecordFailure(event.Service, event.Reason, event.StatusCode)

	case EventCircuitChanged:
		c.metrics.UpdateCircuitState(event.Service, event.Reason)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)
	}

	if c.statsd != nil {
		c.forward(event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
