package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/service-router/internal/cache"
	"github.com/angeloszaimis/service-router/internal/circuitbreaker"
	"github.com/angeloszaimis/service-router/internal/clientpool"
	"github.com/angeloszaimis/service-router/internal/metrics"
)

// Options describe one call. The zero value is a plain uncached GET.
type Options struct {
	Method  string
	Headers map[string]string
	// Data is the request body. []byte and json.RawMessage are sent as is;
	// anything else is JSON encoded.
	Data   any
	Params map[string]string
	// Timeout overrides the endpoint timeout when positive.
	Timeout time.Duration
	// Cache is only consulted for GET calls.
	Cache    bool
	CacheTTL time.Duration
	// InvalidateCache drops the service's cached responses after a successful
	// non-GET call.
	InvalidateCache bool
}

type Router struct {
	pool     *clientpool.Pool
	breakers *circuitbreaker.Registry
	cache    *cache.Cache
	logger   *slog.Logger
	events   metrics.Emitter
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics reports request, cache and failure events to events.
func WithMetrics(events metrics.Emitter) Option {
	return func(r *Router) {
		r.events = events
	}
}

// New builds a router over explicitly owned state. c may be nil to disable
// caching entirely.
func New(pool *clientpool.Pool, breakers *circuitbreaker.Registry, c *cache.Cache, opts ...Option) *Router {
	r := &Router{
		pool:     pool,
		breakers: breakers,
		cache:    c,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Response is the outcome of a successful call.
type Response struct {
	Body        []byte
	ContentType string
	// Cached is set when the response was served from the cache.
	Cached bool
}

// Call sends one request to service and returns the response body.
func (r *Router) Call(ctx context.Context, service, endpoint string, opts Options) ([]byte, error) {
	resp, err := r.Do(ctx, service, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do is Call returning the response metadata along with the body.
func (r *Router) Do(ctx context.Context, service, endpoint string, opts Options) (*Response, error) {
	start := time.Now()
	label := r.metricsName(service)
	r.emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Service: label, Endpoint: endpoint})

	client, err := r.pool.Get(service)
	if err != nil {
		return nil, r.fail(service, endpoint, KindNotConfigured, err)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	body, err := encodeBody(opts.Data)
	if err != nil {
		return nil, r.fail(service, endpoint, KindInvalidRequest, err)
	}
	if err := client.CheckRequestSize(len(body)); err != nil {
		return nil, r.fail(service, endpoint, KindInvalidRequest, err)
	}

	cacheable := opts.Cache && method == http.MethodGet && r.cache != nil
	var key string
	if cacheable {
		key = cache.Key(service, method, endpoint, opts.Params, body)
		if raw, ok := r.cache.Get(ctx, key); ok {
			if cached, ok := decodeEntry(raw); ok {
				r.emit(metrics.MetricEvent{Type: metrics.EventCacheHit, Service: label, Endpoint: endpoint})
				r.logger.Debug("served from cache",
					slog.String("service", service),
					slog.String("endpoint", endpoint))
				return cached, nil
			}
		}
		r.emit(metrics.MetricEvent{Type: metrics.EventCacheMiss, Service: label, Endpoint: endpoint})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = client.TimeoutFor(endpoint)
	}

	req := clientpool.Request{
		Method:   method,
		Endpoint: endpoint,
		Header:   opts.Headers,
		Query:    opts.Params,
		Body:     body,
	}

	resp, err := circuitbreaker.Call(r.breakers, service, func() (*clientpool.Response, error) {
		return doWithTimeout(ctx, client, req, timeout)
	})
	if err != nil {
		return nil, r.fail(service, endpoint, classify(err), err)
	}

	r.emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Service:    label,
		Endpoint:   endpoint,
		Duration:   time.Since(start),
		StatusCode: resp.StatusCode,
	})

	out := &Response{Body: resp.Body, ContentType: resp.Header.Get("Content-Type")}
	if cacheable {
		r.cache.Set(ctx, key, encodeEntry(out), opts.CacheTTL, service)
	}
	if opts.InvalidateCache && method != http.MethodGet {
		r.InvalidateServiceCache(ctx, service)
	}

	return out, nil
}

// CallJSON is Call followed by decoding the body into out.
func (r *Router) CallJSON(ctx context.Context, service, endpoint string, opts Options, out any) error {
	body, err := r.Call(ctx, service, endpoint, opts)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", service, endpoint, err)
	}
	return nil
}

// doWithTimeout bounds one HTTP call. The deferred cancel releases the timer
// on every path, and a call that loses the race never returns its body. A call
// abandoned by the caller is kept out of the breaker counts.
func doWithTimeout(ctx context.Context, client *clientpool.ServiceClient, req clientpool.Request, timeout time.Duration) (*clientpool.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Do(callCtx, req)
	if err != nil {
		if ctx.Err() != nil && isContextError(err) {
			return nil, circuitbreaker.Ignored(fmt.Errorf("%w: %w", ErrCanceled, err))
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
		return resp, err
	}
	return resp, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindDownstream
	}
}

func (r *Router) fail(service, endpoint string, kind Kind, err error) error {
	ue := &UnavailableError{
		Service:    service,
		Endpoint:   endpoint,
		Kind:       kind,
		StatusCode: clientpool.StatusCode(err),
		Err:        err,
	}

	attrs := []any{
		slog.String("service", service),
		slog.String("endpoint", endpoint),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	}
	if kind != KindNotConfigured {
		attrs = append(attrs, slog.String("circuit_state", r.breakers.State(service).String()))
	}
	if ue.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", ue.StatusCode))
	}
	r.logger.Error("service call failed", attrs...)

	r.emit(metrics.MetricEvent{
		Type:       metrics.EventCallFailed,
		Service:    r.metricsName(service),
		Endpoint:   endpoint,
		StatusCode: ue.StatusCode,
		Reason:     string(kind),
	})
	return ue
}

// metricsName is the service label for events. Undeclared names share one
// bucket.
func (r *Router) metricsName(service string) string {
	if r.pool.Declared(service) {
		return service
	}
	return metrics.UnknownService
}

func (r *Router) emit(event metrics.MetricEvent) {
	if r.events != nil {
		r.events.Emit(event)
	}
}

func encodeBody(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return body, nil
	}
}

// CircuitStats returns the breaker view of every service called so far.
func (r *Router) CircuitStats() map[string]circuitbreaker.Stats {
	return r.breakers.Stats()
}

// CircuitState returns the breaker state of service without creating one.
func (r *Router) CircuitState(service string) circuitbreaker.State {
	return r.breakers.State(service)
}

func (r *Router) CacheStats(ctx context.Context) cache.Stats {
	if r.cache == nil {
		return cache.Stats{}
	}
	return r.cache.Stats(ctx)
}

// InvalidateServiceCache drops every cached response of service and returns
// the number removed.
func (r *Router) InvalidateServiceCache(ctx context.Context, service string) int {
	if r.cache == nil {
		return 0
	}
	return r.cache.InvalidateTag(ctx, service)
}

// ResetCircuits drops every breaker so each service starts CLOSED again.
func (r *Router) ResetCircuits() {
	r.breakers.Reset()
}

func (r *Router) ClientStats() map[string]clientpool.ClientStats {
	return r.pool.Stats()
}
