package webhook

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/observability"
)

// MetricsTracker keeps per-route request stats for /health and mirrors them
// to Prometheus.
type MetricsTracker struct {
	routes map[string]*RouteStats
	mu     sync.RWMutex
}

// NewMetricsTracker creates a new metrics tracker
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		routes: make(map[string]*RouteStats),
	}
}

// Track records one request. Responses below 400 count as successes.
func (mt *MetricsTracker) Track(route string, status int, duration time.Duration) {
	observability.RecordWebhookRequest(route, status)

	mt.mu.Lock()
	defer mt.mu.Unlock()

	m, exists := mt.routes[route]
	if !exists {
		m = &RouteStats{Route: route}
		mt.routes[route] = m
	}

	m.TotalRequests++
	if status < http.StatusBadRequest {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}

	ms := float64(duration) / float64(time.Millisecond)
	m.AverageResponseTime = (m.AverageResponseTime*float64(m.TotalRequests-1) + ms) / float64(m.TotalRequests)
	m.LastRequestAt = time.Now().UnixMilli()
}

// Routes returns a snapshot of all routes sorted by name.
func (mt *MetricsTracker) Routes() []RouteStats {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]RouteStats, 0, len(mt.routes))
	for _, m := range mt.routes {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Route < result[j].Route })
	return result
}

// Route returns stats for one route, or nil when it has not been hit.
func (mt *MetricsTracker) Route(route string) *RouteStats {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	m, exists := mt.routes[route]
	if !exists {
		return nil
	}
	result := *m
	return &result
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps next so every response is tracked under route.
func (mt *MetricsTracker) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		mt.Track(route, rec.status, time.Since(start))
	}
}
