package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/service-router/internal/metrics"
)

const (
	DefaultPath  = "/health"
	probeTimeout = 5 * time.Second
)

// Prober is a service that can be asked for its health endpoint status.
type Prober interface {
	Name() string
	Probe(ctx context.Context, path string) (int, error)
}

// Config controls one health check loop.
type Config struct {
	Interval time.Duration
	Path     string
}

// HealthCheck probes service immediately and then every interval until ctx is
// done. A service is healthy when its health endpoint answers 200. Changes
// are logged, stored in status and emitted to events when it is not nil.
func HealthCheck(
	ctx context.Context,
	service Prober,
	cfg Config,
	status *Status,
	logger *slog.Logger,
	events metrics.Emitter,
) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		check(ctx, service, cfg.Path, status, logger, events)

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("service", service.Name()))
			return

		case <-ticker.C:
		}
	}
}

func check(ctx context.Context, service Prober, path string, status *Status, logger *slog.Logger, events metrics.Emitter) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	code, err := service.Probe(probeCtx, path)
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil && code == http.StatusOK
	if !status.Set(service.Name(), healthy) {
		return
	}

	if healthy {
		logger.Info("Service is up",
			slog.String("service", service.Name()))
	} else {
		attrs := []any{slog.String("service", service.Name())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		} else {
			attrs = append(attrs, slog.Int("status", code))
		}
		logger.Warn("Service is down", attrs...)
	}

	if events != nil {
		events.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Service: service.Name(),
			Healthy: healthy,
		})
	}
}
