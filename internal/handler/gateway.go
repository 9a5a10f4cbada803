package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/service-router/internal/clientpool"
	"github.com/angeloszaimis/service-router/internal/router"
)

// forwardedHeaders are copied from the inbound request to the downstream call.
var forwardedHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Request-ID"}

type GatewayConfig struct {
	// CacheGets enables the response cache for inbound GET requests.
	CacheGets bool
	CacheTTL  time.Duration
	// MaxBodyBytes bounds the inbound body read before the router applies the
	// per-service limit.
	MaxBodyBytes int64
}

type errorResponse struct {
	Error    string `json:"error"`
	Service  string `json:"service,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Gateway forwards /api/{service}/{path...} through the service router.
type Gateway struct {
	logger *slog.Logger
	router *router.Router
	cfg    GatewayConfig
}

func NewGateway(logger *slog.Logger, r *router.Router, cfg GatewayConfig) *Gateway {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = clientpool.DefaultSizeLimit
	}
	return &Gateway{logger: logger, router: r, cfg: cfg}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	endpoint := "/" + r.PathValue("path")

	g.logger.Info("Received request",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("service", service),
		slog.String("endpoint", endpoint),
		slog.String("user_agent", r.UserAgent()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, g.logger, status, errorResponse{
			Error:    "failed to read request body",
			Service:  service,
			Endpoint: endpoint,
			Kind:     string(router.KindInvalidRequest),
		})
		return
	}

	opts := router.Options{
		Method:          r.Method,
		Headers:         forwardHeaders(r.Header),
		Params:          g.queryParams(r),
		InvalidateCache: r.Method != http.MethodGet,
	}
	if len(body) > 0 {
		opts.Data = body
	}
	if r.Method == http.MethodGet && g.cfg.CacheGets && !noCache(r) {
		opts.Cache = true
		opts.CacheTTL = g.cfg.CacheTTL
	}

	resp, err := g.router.Do(r.Context(), service, endpoint, opts)
	if err != nil {
		g.writeError(w, service, endpoint, err)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func (g *Gateway) writeError(w http.ResponseWriter, service, endpoint string, err error) {
	kind := router.KindOf(err)

	status := http.StatusServiceUnavailable
	if kind == router.KindInvalidRequest {
		status = http.StatusBadRequest
	}

	writeJSON(w, g.logger, status, errorResponse{
		Error:    err.Error(),
		Service:  service,
		Endpoint: endpoint,
		Kind:     string(kind),
	})
}

func forwardHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(forwardedHeaders))
	for _, name := range forwardedHeaders {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// queryParams maps the inbound query onto the router's single-valued params.
// A repeated parameter keeps its first value; the rest are dropped and logged.
func (g *Gateway) queryParams(r *http.Request) map[string]string {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	params := make(map[string]string, len(query))
	for name, values := range query {
		if len(values) == 0 {
			continue
		}
		params[name] = values[0]
		if len(values) > 1 {
			g.logger.Warn("repeated query parameter, forwarding the first value",
				slog.String("param", name),
				slog.Int("dropped", len(values)-1))
		}
	}
	return params
}

func noCache(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}
