package main

import (
	"net/http"

	"github.com/angeloszaimis/service-router/internal/handler"
	"github.com/angeloszaimis/service-router/internal/metrics"
)

// setupRouter serves the gateway and the ops endpoints on one listener.
func setupRouter(gateway http.Handler, ops *handler.Ops, collector *metrics.Collector) *http.ServeMux {
	mux := setupGatewayRouter(gateway)
	registerOps(mux, ops, collector)
	return mux
}

func setupGatewayRouter(gateway http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/{service}/{path...}", gateway)
	return mux
}

func setupOpsRouter(ops *handler.Ops, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	registerOps(mux, ops, collector)
	return mux
}

func registerOps(mux *http.ServeMux, ops *handler.Ops, collector *metrics.Collector) {
	mux.HandleFunc("GET /health", ops.Health)
	mux.HandleFunc("GET /ops/circuits", ops.Circuits)
	mux.HandleFunc("POST /ops/circuits/reset", ops.ResetCircuits)
	mux.HandleFunc("GET /ops/cache", ops.CacheStats)
	mux.HandleFunc("DELETE /ops/cache/{service}", ops.InvalidateCache)
	mux.HandleFunc("GET /metrics", collector.Handler())
}
