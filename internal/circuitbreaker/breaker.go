package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted,
// either because the breaker is OPEN or because the HALF_OPEN trial slots are
// taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing with trial requests
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Settings configures every breaker created by a registry.
type Settings struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive trial successes close it again. It is also
	// the number of trial calls admitted concurrently while HALF_OPEN.
	SuccessThreshold int
	// OpenDuration is how long the circuit stays OPEN before the next call
	// becomes a trial.
	OpenDuration time.Duration
	// MonitoringPeriod clears the CLOSED-state counts periodically. Zero
	// never clears them.
	MonitoringPeriod time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	if s.OpenDuration <= 0 {
		s.OpenDuration = d.OpenDuration
	}
	if s.MonitoringPeriod < 0 {
		s.MonitoringPeriod = 0
	}
	return s
}

// Stats is the operational view of one breaker.
type Stats struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"failure_count"`
	ConsecutiveSuccesses int       `json:"success_count"`
	TotalRequests        int64     `json:"total_requests"`
	TotalFailures        int64     `json:"total_failures"`
	Rejected             int64     `json:"rejected"`
	Ignored              int64     `json:"ignored"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker guards calls to one service.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.TwoStepCircuitBreaker[any]

	// mutex is never held while calling into cb; cb invokes ReadyToTrip and
	// onStateChange with its own lock held and both paths take mutex.
	mutex sync.Mutex
	stats Stats
	// tripFailures is the failure streak that opened the circuit. gobreaker
	// clears its counts on every transition.
	tripFailures int
}

type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }

// Ignored marks err as saying nothing about the service's health, for example
// a call abandoned by its own caller. The breaker counts neither a failure nor
// a success for it, and Execute returns err itself. A trial call in HALF_OPEN
// still has to report, so there it reopens the circuit.
func Ignored(err error) error {
	if err == nil {
		return nil
	}
	return &ignoredError{err: err}
}

func newCircuitBreaker(name string, s Settings, hook StateChangeHook) *CircuitBreaker {
	b := &CircuitBreaker{name: name}

	failureThreshold := uint32(s.FailureThreshold)
	b.cb = gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(s.SuccessThreshold),
		Interval:    s.MonitoringPeriod,
		Timeout:     s.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures < failureThreshold {
				return false
			}
			b.mutex.Lock()
			b.tripFailures = int(counts.ConsecutiveFailures)
			b.mutex.Unlock()
			return true
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(fromGobreaker(from), fromGobreaker(to))
			if hook != nil {
				hook(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})

	return b
}

// Name returns the service name the breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker rejects the call. A rejection returns an
// error wrapping ErrCircuitOpen and fn is not invoked. Errors wrapped with
// Ignored are unwrapped and not counted.
func (b *CircuitBreaker) Execute(fn func() (any, error)) (result any, err error) {
	done, err := b.cb.Allow()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		b.recordRejection()
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		b.recordRejection()
		return nil, fmt.Errorf("%w: %s: half-open trial limit reached", ErrCircuitOpen, b.name)
	case err != nil:
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			done(false)
			b.recordFailure()
			panic(e)
		}
	}()

	result, err = fn()

	var ignored *ignoredError
	switch {
	case errors.As(err, &ignored):
		// Admissions in CLOSED need no report. A HALF_OPEN trial slot is only
		// released by an outcome.
		if b.State() == StateHalfOpen {
			done(false)
		}
		b.recordIgnored()
		return result, ignored.err
	case err != nil:
		done(false)
		b.recordFailure()
		return result, err
	default:
		done(true)
		b.recordSuccess()
		return result, nil
	}
}

// State returns the current state. An OPEN breaker whose open duration has
// elapsed already reports HALF_OPEN.
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Stats returns a snapshot of the breaker counters. The streak counts are
// gobreaker's own for CLOSED and HALF_OPEN; OPEN reports the streak that
// tripped it.
func (b *CircuitBreaker) Stats() Stats {
	state := b.State()
	counts := b.cb.Counts()

	b.mutex.Lock()
	s := b.stats
	tripFailures := b.tripFailures
	b.mutex.Unlock()

	s.State = state
	switch state {
	case StateOpen:
		s.ConsecutiveFailures = tripFailures
		s.ConsecutiveSuccesses = 0
	case StateHalfOpen:
		s.ConsecutiveFailures = int(counts.ConsecutiveFailures)
		s.ConsecutiveSuccesses = int(counts.ConsecutiveSuccesses)
	default:
		s.ConsecutiveFailures = int(counts.ConsecutiveFailures)
		s.ConsecutiveSuccesses = 0
	}
	return s
}

func (b *CircuitBreaker) onStateChange(from, to State) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch to {
	case StateOpen:
		if from == StateHalfOpen {
			b.tripFailures = 1
		}
		b.stats.OpenedAt = time.Now()
	case StateClosed:
		b.tripFailures = 0
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats.TotalRequests++
	b.stats.TotalFailures++
	b.stats.LastFailure = time.Now()
}

func (b *CircuitBreaker) recordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.stats.TotalRequests++
}

func (b *CircuitBreaker) recordIgnored() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.stats.TotalRequests++
	b.stats.Ignored++
}

func (b *CircuitBreaker) recordRejection() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.stats.Rejected++
}
