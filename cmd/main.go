package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/service-router/config"
	"github.com/angeloszaimis/service-router/internal/cache"
	"github.com/angeloszaimis/service-router/internal/circuitbreaker"
	"github.com/angeloszaimis/service-router/internal/clientpool"
	"github.com/angeloszaimis/service-router/internal/handler"
	"github.com/angeloszaimis/service-router/internal/healthcheck"
	"github.com/angeloszaimis/service-router/internal/httpserver"
	"github.com/angeloszaimis/service-router/internal/metrics"
	"github.com/angeloszaimis/service-router/internal/router"
	"github.com/angeloszaimis/service-router/pkg/logger"
)

const redisPingTimeout = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log, closeLog := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		AddSource:   cfg.Logging.AddSource,
		Environment: cfg.Server.Environment,
		File: logger.FileConfig{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		},
	})
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error("Service router stopped with error", slog.Any("err", err))
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector, err := newCollector(cfg, log)
	if err != nil {
		return fmt.Errorf("create metrics collector: %w", err)
	}
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		<-collector.Done()
	}()

	pool := buildPool(cfg, log)
	breakers := newBreakers(cfg, log, collector)

	responseCache, closeCache, err := newCache(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer closeCache()
	if responseCache != nil {
		go responseCache.Start(ctx)
	}

	rt := router.New(pool, breakers, responseCache,
		router.WithLogger(log),
		router.WithMetrics(collector))

	var status *healthcheck.Status
	if cfg.HealthCheck.Enabled {
		status = healthcheck.NewStatus()
		startHealthChecks(ctx, cfg, pool, status, log, collector)
	}

	gateway := handler.NewGateway(log, rt, handler.GatewayConfig{
		CacheGets:    cfg.Gateway.CacheGets,
		CacheTTL:     cfg.Gateway.CacheTTL,
		MaxBodyBytes: cfg.Limits.MaxRequestBytes,
	})
	ops := handler.NewOps(log, rt, status)

	servers, err := newServers(cfg, gateway, ops, collector)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	srvErrCh := make(chan error, len(servers))
	for _, srv := range servers {
		log.Info("Service router listening", slog.String("addr", srv.Addr()))
		go func(srv *httpserver.Server) {
			srvErrCh <- srv.Start()
		}(srv)
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		for _, srv := range servers {
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error("Error during shutdown", slog.Any("err", err))
			}
		}
		return nil
	case err := <-srvErrCh:
		return err
	}
}

func newCollector(cfg *config.Config, log *slog.Logger) (*metrics.Collector, error) {
	var opts []metrics.Option
	if cfg.Metrics.StatsdAddress != "" {
		client, err := metrics.NewStatsdClient(cfg.Metrics.StatsdAddress, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		log.Info("Forwarding metrics to statsd", slog.String("addr", cfg.Metrics.StatsdAddress))
		opts = append(opts, metrics.WithStatsd(client))
	}
	return metrics.NewCollector(cfg.Metrics.BufferSize, log, opts...), nil
}

func buildPool(cfg *config.Config, log *slog.Logger) *clientpool.Pool {
	rules := make([]clientpool.TimeoutRule, len(cfg.Timeouts.Rules))
	for i, rule := range cfg.Timeouts.Rules {
		rules[i] = clientpool.TimeoutRule{Contains: rule.Contains, Timeout: rule.Timeout}
	}

	services := make([]clientpool.ServiceConfig, len(cfg.Services))
	for i, svc := range cfg.Services {
		services[i] = clientpool.ServiceConfig{
			Name:             svc.Name,
			URL:              svc.URL,
			Timeout:          svc.Timeout,
			MaxRequestBytes:  svc.MaxRequestBytes,
			MaxResponseBytes: svc.MaxResponseBytes,
		}
	}

	return clientpool.New(log, clientpool.Options{
		DefaultTimeout:      cfg.Timeouts.Default,
		MaxRequestBytes:     cfg.Limits.MaxRequestBytes,
		MaxResponseBytes:    cfg.Limits.MaxResponseBytes,
		TimeoutRules:        rules,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		DialTimeout:         cfg.Transport.DialTimeout,
	}, services)
}

func newBreakers(cfg *config.Config, log *slog.Logger, events metrics.Emitter) *circuitbreaker.Registry {
	return circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenDuration:     cfg.CircuitBreaker.OpenDuration,
		MonitoringPeriod: cfg.CircuitBreaker.MonitoringPeriod,
	},
		circuitbreaker.WithLogger(log),
		circuitbreaker.WithStateChangeHook(func(name string, _, to circuitbreaker.State) {
			events.Emit(metrics.MetricEvent{
				Type:    metrics.EventCircuitChanged,
				Service: name,
				Reason:  to.String(),
			})
		}))
}

// newCache returns a nil cache when caching is disabled. The returned func
// releases the store connection and is always safe to call.
func newCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (*cache.Cache, func(), error) {
	noop := func() {}
	if !cfg.Cache.Enabled {
		log.Info("Response cache disabled")
		return nil, noop, nil
	}

	var (
		store   cache.Store
		cleanup = noop
	)

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.Redis.Address, err)
		}

		store = cache.NewRedisStore(client, cfg.Cache.Redis.KeyPrefix)
		cleanup = func() { _ = client.Close() }
		log.Info("Using redis response cache", slog.String("addr", cfg.Cache.Redis.Address))

	default:
		store = cache.NewMemoryStore(cache.WithMemorySize(cfg.Cache.Memory.SizeBytes))
		log.Info("Using in-memory response cache", slog.Int("size_bytes", cfg.Cache.Memory.SizeBytes))
	}

	return cache.New(store,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithLogger(log),
	), cleanup, nil
}

func startHealthChecks(ctx context.Context, cfg *config.Config, pool *clientpool.Pool, status *healthcheck.Status, log *slog.Logger, events metrics.Emitter) {
	hc := healthcheck.Config{
		Interval: cfg.HealthCheck.Interval,
		Path:     cfg.HealthCheck.Path,
	}
	for _, client := range pool.Clients() {
		go healthcheck.HealthCheck(ctx, client, hc, status, log, events)
	}
}

func newServers(cfg *config.Config, gateway http.Handler, ops *handler.Ops, collector *metrics.Collector) ([]*httpserver.Server, error) {
	opts := []httpserver.Option{httpserver.WithWriteTimeout(writeTimeout(cfg))}

	if cfg.Server.OpsAddress == "" {
		srv, err := httpserver.New(cfg.Server.Address, setupRouter(gateway, ops, collector), opts...)
		if err != nil {
			return nil, err
		}
		return []*httpserver.Server{srv}, nil
	}

	srv, err := httpserver.New(cfg.Server.Address, setupGatewayRouter(gateway), opts...)
	if err != nil {
		return nil, err
	}
	opsSrv, err := httpserver.New(cfg.Server.OpsAddress, setupOpsRouter(ops, collector))
	if err != nil {
		return nil, err
	}
	return []*httpserver.Server{srv, opsSrv}, nil
}

// writeTimeout leaves room for the slowest downstream call the gateway can make.
func writeTimeout(cfg *config.Config) time.Duration {
	longest := cfg.Timeouts.Default
	for _, rule := range cfg.Timeouts.Rules {
		longest = max(longest, rule.Timeout)
	}
	for _, svc := range cfg.Services {
		longest = max(longest, svc.Timeout)
	}
	return longest + 5*time.Second
}
