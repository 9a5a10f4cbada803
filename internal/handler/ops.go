package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/service-router/internal/circuitbreaker"
	"github.com/angeloszaimis/service-router/internal/healthcheck"
	"github.com/angeloszaimis/service-router/internal/router"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

type serviceHealth struct {
	Configured   bool          `json:"configured"`
	Healthy      *bool         `json:"healthy,omitempty"`
	CircuitState string        `json:"circuit_state"`
	InFlight     int           `json:"in_flight"`
	EWMALatency  time.Duration `json:"ewma_latency"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]serviceHealth `json:"services"`
}

// Ops serves the operational endpoints.
type Ops struct {
	logger *slog.Logger
	router *router.Router
	status *healthcheck.Status
}

// NewOps builds the ops handlers. status may be nil when health checks are
// disabled.
func NewOps(logger *slog.Logger, r *router.Router, status *healthcheck.Status) *Ops {
	return &Ops{logger: logger, router: r, status: status}
}

// Health reports every declared service. The gateway is degraded when a
// configured service failed its last probe or has an open circuit; services
// without a URL never degrade it.
func (o *Ops) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   healthOK,
		Services: make(map[string]serviceHealth),
	}

	var states map[string]bool
	if o.status != nil {
		states = o.status.Snapshot()
	}

	for name, stats := range o.router.ClientStats() {
		state := o.router.CircuitState(name)
		sh := serviceHealth{
			Configured:   stats.Configured,
			CircuitState: state.String(),
			InFlight:     stats.InFlight,
			EWMALatency:  stats.EWMALatency,
		}

		if healthy, known := states[name]; known {
			sh.Healthy = &healthy
			if stats.Configured && !healthy {
				resp.Status = healthDegraded
			}
		}
		if stats.Configured && state == circuitbreaker.StateOpen {
			resp.Status = healthDegraded
		}

		resp.Services[name] = sh
	}

	code := http.StatusOK
	if resp.Status == healthDegraded {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, o.logger, code, resp)
}

func (o *Ops) Circuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, o.logger, http.StatusOK, o.router.CircuitStats())
}

// ResetCircuits handles POST /ops/circuits/reset.
func (o *Ops) ResetCircuits(w http.ResponseWriter, r *http.Request) {
	o.router.ResetCircuits()

	o.logger.Warn("circuit breakers reset via ops endpoint",
		slog.String("from", extractClientIP(r)))

	writeJSON(w, o.logger, http.StatusOK, o.router.CircuitStats())
}

func (o *Ops) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, o.logger, http.StatusOK, o.router.CacheStats(r.Context()))
}

// InvalidateCache handles DELETE /ops/cache/{service}.
func (o *Ops) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	removed := o.router.InvalidateServiceCache(r.Context(), service)

	o.logger.Info("cache invalidated via ops endpoint",
		slog.String("service", service),
		slog.String("from", extractClientIP(r)),
		slog.Int("removed", removed))

	writeJSON(w, o.logger, http.StatusOK, map[string]any{
		"service": service,
		"removed": removed,
	})
}
