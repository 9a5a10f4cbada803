package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxResponseSamples = 1000

// UnknownService is the bucket for calls naming a service that was never
// declared, so arbitrary names cannot grow the per-service maps.
const UnknownService = "unknown"

type Metrics struct {
	mutex         sync.RWMutex
	services      map[string]*serviceMetrics
	startTime     time.Time
	totalRequests int64
}

type serviceMetrics struct {
	requests      int64
	cacheHits     int64
	cacheMisses   int64
	responseTimes []time.Duration
	statusCodes   map[int]int64
	failures      map[string]int64
	healthy       bool
	circuitState  string
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Services      map[string]ServiceMetrics `json:"services"`
}

type ServiceMetrics struct {
	Requests     int64            `json:"requests"`
	CacheHits    int64            `json:"cache_hits"`
	CacheMisses  int64            `json:"cache_misses"`
	Healthy      bool             `json:"healthy"`
	CircuitState string           `json:"circuit_state,omitempty"`
	AvgResponse  time.Duration    `json:"avg_response"`
	P50Response  time.Duration    `json:"p50_response"`
	P95Response  time.Duration    `json:"p95_response"`
	P99Response  time.Duration    `json:"p99_response"`
	StatusCodes  map[int]int64    `json:"status_codes"`
	Failures     map[string]int64 `json:"failures"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		services:  make(map[string]*serviceMetrics),
		startTime: time.Now(),
	}
}

func (m *Metrics) service(name string) *serviceMetrics {
	s, ok := m.services[name]
	if !ok {
		s = &serviceMetrics{
			statusCodes: make(map[int]int64),
			failures:    make(map[string]int64),
		}
		m.services[name] = s
	}
	return s
}

func (m *Metrics) IncrementRequests(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).requests++
	m.totalRequests++
}

func (m *Metrics) RecordCacheLookup(service string, hit bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.service(service)
	if hit {
		s.cacheHits++
	} else {
		s.cacheMisses++
	}
}

func (m *Metrics) RecordResponse(service string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.service(service)
	s.responseTimes = append(s.responseTimes, duration)
	if len(s.responseTimes) > maxResponseSamples {
		s.responseTimes = s.responseTimes[1:]
	}
	if statusCode > 0 {
		s.statusCodes[statusCode]++
	}
}

// RecordFailure counts a failed call by kind. A non-zero statusCode is also
// added to the status distribution.
func (m *Metrics) RecordFailure(service, kind string, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.service(service)
	s.failures[kind]++
	if statusCode > 0 {
		s.statusCodes[statusCode]++
	}
}

func (m *Metrics) UpdateCircuitState(service, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).circuitState = state
}

func (m *Metrics) UpdateHealthStatus(service string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).healthy = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests: m.totalRequests,
		Uptime:        time.Since(m.startTime),
		Services:      make(map[string]ServiceMetrics, len(m.services)),
	}

	for name, s := range m.services {
		sm := ServiceMetrics{
			Requests:     s.requests,
			CacheHits:    s.cacheHits,
			CacheMisses:  s.cacheMisses,
			Healthy:      s.healthy,
			CircuitState: s.circuitState,
			StatusCodes:  make(map[int]int64, len(s.statusCodes)),
			Failures:     make(map[string]int64, len(s.failures)),
		}
		for code, n := range s.statusCodes {
			sm.StatusCodes[code] = n
		}
		for kind, n := range s.failures {
			sm.Failures[kind] = n
		}

		if len(s.responseTimes) > 0 {
			sorted := make([]time.Duration, len(s.responseTimes))
			copy(sorted, s.responseTimes)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[name] = sm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
