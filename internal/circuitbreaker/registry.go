package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
)

// StateChangeHook is called on every breaker transition. It runs while the
// breaker's internal lock is held and must not call back into the registry.
type StateChangeHook func(name string, from, to State)

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithStateChangeHook(hook StateChangeHook) Option {
	return func(r *Registry) {
		r.hook = hook
	}
}

// Registry owns one breaker per service name.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	settings Settings
	logger   *slog.Logger
	hook     StateChangeHook
}

func NewRegistry(settings Settings, opts ...Option) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		settings: settings.withDefaults(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the effective settings, with defaults applied.
func (r *Registry) Settings() Settings {
	return r.settings
}

// GetBreaker returns the breaker for name, creating it on first use.
func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = newCircuitBreaker(name, r.settings, r.onStateChange)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the breaker for name.
func (r *Registry) Execute(name string, fn func() (any, error)) (any, error) {
	return r.GetBreaker(name).Execute(fn)
}

// State reports the state for name. Unknown names are CLOSED and no breaker is
// created for them.
func (r *Registry) State(name string) State {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if !exists {
		return StateClosed
	}
	return cb.State()
}

// Stats returns a snapshot for every breaker created so far.
func (r *Registry) Stats() map[string]Stats {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for _, cb := range breakers {
		stats[cb.name] = cb.Stats()
	}
	return stats
}

// Reset drops every breaker. The next call for a name starts CLOSED.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) onStateChange(name string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "circuit breaker state changed",
		slog.String("service", name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	if r.hook != nil {
		r.hook(name, from, to)
	}
}

// Call runs fn through the breaker for name and keeps the result typed.
func Call[T any](r *Registry, name string, fn func() (T, error)) (T, error) {
	result, err := r.Execute(name, func() (any, error) {
		return fn()
	})

	var zero T
	if result == nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, err
	}
	return typed, err
}
