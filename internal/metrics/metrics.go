package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamples caps the latency window kept per route.
const maxSamples = 1000

type Metrics struct {
	mutex            sync.RWMutex
	requests         map[string]int64
	responseTimes    map[string][]time.Duration
	statusCodes      map[string]map[int]int64
	upstreamFailures map[string]map[string]int64
	backendHealthy   bool
	startTime        time.Time
}

type Snapshot struct {
	TotalRequests  int64                   `json:"total_requests"`
	Uptime         time.Duration           `json:"uptime"`
	BackendHealthy bool                    `json:"backend_healthy"`
	Routes         map[string]RouteMetrics `json:"routes"`
}

type RouteMetrics struct {
	Requests         int64            `json:"requests"`
	AvgResponse      time.Duration    `json:"avg_response"`
	P50Response      time.Duration    `json:"p50_response"`
	P95Response      time.Duration    `json:"p95_response"`
	P99Response      time.Duration    `json:"p99_response"`
	StatusCodes      map[int]int64    `json:"status_codes"`
	UpstreamFailures map[string]int64 `json:"upstream_failures,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:         make(map[string]int64),
		responseTimes:    make(map[string][]time.Duration),
		statusCodes:      make(map[string]map[int]int64),
		upstreamFailures: make(map[string]map[string]int64),
		backendHealthy:   true,
		startTime:        time.Now(),
	}
}

func (m *Metrics) IncrementRequests(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[route]++
}

func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[route] = append(m.responseTimes[route], duration)
	if len(m.responseTimes[route]) > maxSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) RecordUpstreamFailure(route, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.upstreamFailures[route] == nil {
		m.upstreamFailures[route] = make(map[string]int64)
	}
	m.upstreamFailures[route][kind]++
}

func (m *Metrics) UpdateBackendHealth(healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.backendHealthy = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:         time.Since(m.startTime),
		BackendHealthy: m.backendHealthy,
		Routes:         make(map[string]RouteMetrics),
	}

	routes := make(map[string]bool)
	for route := range m.requests {
		routes[route] = true
	}
	for route := range m.responseTimes {
		routes[route] = true
	}
	for route := range m.upstreamFailures {
		routes[route] = true
	}

	for route := range routes {
		snap.TotalRequests += m.requests[route]

		rm := RouteMetrics{
			Requests:         m.requests[route],
			StatusCodes:      copyCounts(m.statusCodes[route]),
			UpstreamFailures: copyCounts(m.upstreamFailures[route]),
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	return snap
}

func copyCounts[K comparable](src map[K]int64) map[K]int64 {
	if src == nil {
		return nil
	}
	dst := make(map[K]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
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
