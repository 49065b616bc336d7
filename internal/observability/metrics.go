package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queuePending *prometheus.GaugeVec
	enqueueTotal prometheus.Counter
	dequeueTotal *prometheus.CounterVec
	taskDuration prometheus.Histogram
	dedupHits    prometheus.Counter

	activeSessions      prometheus.Gauge
	sessionsCreated     *prometheus.CounterVec
	sessionsEvicted     prometheus.Counter
	evictionSweepTiming prometheus.Histogram

	relayEvents        *prometheus.CounterVec
	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	deliveryTotal      *prometheus.CounterVec
	deliveryDuration   prometheus.Histogram

	webhookRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queuePending: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "pagerelay_queue_pending",
					Help: "Tasks queued or running, and active lanes.",
				},
				[]string{"kind"},
			),
			enqueueTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pagerelay_queue_enqueue_total",
					Help: "Total tasks submitted to the lane queue.",
				},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_queue_completed_total",
					Help: "Total lane tasks completed by status.",
				},
				[]string{"status"},
			),
			taskDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pagerelay_queue_task_duration_seconds",
					Help:    "Lane task execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			dedupHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pagerelay_queue_dedup_hits_total",
					Help: "Tasks skipped because their request id was already processed.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pagerelay_sessions_active",
					Help: "Sessions currently resident in the store.",
				},
			),
			sessionsCreated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_sessions_created_total",
					Help: "Sessions created, by reason (new or expired).",
				},
				[]string{"reason"},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "pagerelay_sessions_evicted_total",
					Help: "Sessions removed by the eviction sweep.",
				},
			),
			evictionSweepTiming: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pagerelay_eviction_sweep_duration_seconds",
					Help:    "Eviction sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			relayEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_relay_events_total",
					Help: "Relay pipeline runs by result.",
				},
				[]string{"result"},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_completion_total",
					Help: "Completion calls by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pagerelay_completion_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			deliveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_delivery_total",
					Help: "Delivery calls by status.",
				},
				[]string{"status"},
			),
			deliveryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pagerelay_delivery_duration_seconds",
					Help:    "Delivery call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			webhookRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pagerelay_webhook_requests_total",
					Help: "Webhook HTTP requests by route and status code class.",
				},
				[]string{"route", "status"},
			),
		}

		prometheus.MustRegister(
			m.queuePending,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.dedupHits,
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsEvicted,
			m.evictionSweepTiming,
			m.relayEvents,
			m.completionTotal,
			m.completionDuration,
			m.deliveryTotal,
			m.deliveryDuration,
			m.webhookRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(pending int, lanes int) {
	m := getMetrics()
	m.enqueueTotal.Inc()
	m.queuePending.WithLabelValues("tasks").Set(float64(pending))
	m.queuePending.WithLabelValues("lanes").Set(float64(lanes))
}

func RecordQueueCompletion(duration time.Duration, success bool, pending int, lanes int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(statusLabel(success)).Inc()
	m.taskDuration.Observe(duration.Seconds())
	m.queuePending.WithLabelValues("tasks").Set(float64(pending))
	m.queuePending.WithLabelValues("lanes").Set(float64(lanes))
}

func RecordDedupHit() {
	getMetrics().dedupHits.Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionCreated counts a session creation; expired is true when an
// idle session was replaced on resolve.
func RecordSessionCreated(expired bool) {
	reason := "new"
	if expired {
		reason = "expired"
	}
	getMetrics().sessionsCreated.WithLabelValues(reason).Inc()
}

func RecordEvictionSweep(duration time.Duration, removed int) {
	m := getMetrics()
	m.evictionSweepTiming.Observe(duration.Seconds())
	m.sessionsEvicted.Add(float64(removed))
}

func RecordRelayEvent(result string) {
	getMetrics().relayEvents.WithLabelValues(result).Inc()
}

func RecordCompletion(provider string, outcome string, duration time.Duration) {
	m := getMetrics()
	m.completionTotal.WithLabelValues(provider, outcome).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordDelivery(duration time.Duration, success bool) {
	m := getMetrics()
	m.deliveryTotal.WithLabelValues(statusLabel(success)).Inc()
	m.deliveryDuration.Observe(duration.Seconds())
}

func RecordWebhookRequest(route string, status int) {
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	getMetrics().webhookRequests.WithLabelValues(route, class).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
