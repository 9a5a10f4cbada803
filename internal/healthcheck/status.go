package healthcheck

import "sync"

// Status holds the last known health of every probed service.
type Status struct {
	mutex   sync.RWMutex
	healthy map[string]bool
}

func NewStatus() *Status {
	return &Status{healthy: make(map[string]bool)}
}

// Set records the health of service and reports whether it changed. The
// first observation of a service always counts as a change.
func (s *Status) Set(service string, healthy bool) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, known := s.healthy[service]
	s.healthy[service] = healthy
	return !known || prev != healthy
}

// Snapshot copies the last observation of every probed service.
func (s *Status) Snapshot() map[string]bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(map[string]bool, len(s.healthy))
	for name, healthy := range s.healthy {
		out[name] = healthy
	}
	return out
}
