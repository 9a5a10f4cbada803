package metrics

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// NewStatsdClient connects to a DogStatsD agent. Names are prefixed with
// namespace.
func NewStatsdClient(address, namespace string) (*statsd.Client, error) {
	opts := []statsd.Option{}
	if namespace != "" {
		if !strings.HasSuffix(namespace, ".") {
			namespace += "."
		}
		opts = append(opts, statsd.WithNamespace(namespace))
	}
	return statsd.New(address, opts...)
}

func (c *Collector) forward(event MetricEvent) {
	tags := []string{"service:" + event.Service}

	var err error
	switch event.Type {
	case EventRequestReceived:
		err = c.statsd.Incr("requests", tags, 1)

	case EventCacheHit:
		err = c.statsd.Incr("cache.hit", tags, 1)

	case EventCacheMiss:
		err = c.statsd.Incr("cache.miss", tags, 1)

	case EventResponseCompleted:
		tags = append(tags, "status:"+strconv.Itoa(event.StatusCode))
		err = c.statsd.Timing("response.duration", event.Duration, tags, 1)

	case EventCallFailed:
		tags = append(tags, "kind:"+event.Reason)
		err = c.statsd.Incr("failures", tags, 1)

	case EventCircuitChanged:
		tags = append(tags, "state:"+event.Reason)
		err = c.statsd.Incr("circuit.transitions", tags, 1)

	case EventHealthChanged:
		value := 0.0
		if event.Healthy {
			value = 1
		}
		err = c.statsd.Gauge("healthy", value, tags, 1)
	}

	if err != nil {
		c.logger.Debug("statsd send failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
