// Stubservice is a fake downstream service for exercising the router locally.
// It serves /health, a small record store under /records and a slow
// /generate endpoint.
//
// Usage:
//
//	go run ./cmd/stubservice -port 9001 -name crm
//	go run ./cmd/stubservice -port 9002 -name aiRouting -delay 2s
//
// POST /admin/health?down=true makes /health answer 503 until it is reset with
// down=false. POST /admin/fail?down=true makes every other endpoint answer 500.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type record struct {
	ID        string          `json:"id"`
	Service   string          `json:"service"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type stub struct {
	name   string
	delay  time.Duration
	logger *slog.Logger

	unhealthy atomic.Bool
	failing   atomic.Bool

	mutex   sync.RWMutex
	records []record
}

func main() {
	port := flag.Int("port", 9001, "port to listen on")
	name := flag.String("name", "stub", "service name reported in responses")
	delay := flag.Duration("delay", time.Second, "latency of the /generate endpoint")
	flag.Parse()

	s := &stub{
		name:   *name,
		delay:  *delay,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("service", *name)),
	}

	addr := fmt.Sprintf(":%d", *port)
	s.logger.Info("starting stub service", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		s.logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func (s *stub) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /records", s.failable(s.listRecords))
	mux.HandleFunc("POST /records", s.failable(s.createRecord))
	mux.HandleFunc("/generate", s.failable(s.generate))
	mux.HandleFunc("POST /admin/health", toggle(&s.unhealthy))
	mux.HandleFunc("POST /admin/fail", toggle(&s.failing))
	return s.logRequests(mux)
}

func (s *stub) health(w http.ResponseWriter, r *http.Request) {
	if s.unhealthy.Load() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *stub) listRecords(w http.ResponseWriter, r *http.Request) {
	s.mutex.RLock()
	out := append([]record{}, s.records...)
	s.mutex.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{"records": out, "count": len(out)})
}

func (s *stub) createRecord(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	rec := record{
		ID:        uuid.NewString(),
		Service:   s.name,
		Data:      body,
		CreatedAt: time.Now().UTC(),
	}

	s.mutex.Lock()
	s.records = append(s.records, rec)
	s.mutex.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"record": rec})
}

func (s *stub) generate(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(s.delay):
	case <-r.Context().Done():
		s.logger.Info("generate aborted by caller")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      uuid.NewString(),
		"service": s.name,
		"text":    "generated by " + s.name,
		"took":    s.delay.String(),
	})
}

func (s *stub) failable(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.failing.Load() {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (s *stub) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr),
			slog.String("request_id", r.Header.Get("X-Request-ID")),
			slog.Duration("took", time.Since(start)))
	})
}

func toggle(state *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		down, err := strconv.ParseBool(r.URL.Query().Get("down"))
		if err != nil {
			http.Error(w, "down must be true or false", http.StatusBadRequest)
			return
		}
		state.Store(down)
		writeJSON(w, http.StatusOK, map[string]bool{"down": down})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
