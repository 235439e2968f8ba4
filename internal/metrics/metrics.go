package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Foreman
type Metrics struct {
	// Webhook / dispatch metrics
	DeliveriesTotal *prometheus.CounterVec
	DedupHitsTotal  *prometheus.CounterVec
	DispatchesTotal *prometheus.CounterVec
	DispatchMisses  prometheus.Counter

	// Run metrics
	RunsActive      prometheus.Gauge
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunEventsTotal  *prometheus.CounterVec
	StreamFallbacks prometheus.Counter

	// Permission metrics
	PermissionDecisions *prometheus.CounterVec
	QuestionsRejected   prometheus.Counter

	// System metrics
	EventsPublished     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			DeliveriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_deliveries_total",
					Help: "Total number of webhook deliveries received",
				},
				[]string{"event_kind", "operation"},
			),
			DedupHitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_dedup_hits_total",
					Help: "Total number of deliveries suppressed as duplicates",
				},
				[]string{"event_kind"},
			),
			DispatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_dispatches_total",
					Help: "Total number of events matched to a rule",
				},
				[]string{"rule", "action"},
			),
			DispatchMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "foreman_dispatch_misses_total",
					Help: "Total number of events that matched no rule",
				},
			),

			RunsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "foreman_runs_active",
					Help: "Number of agent runs currently in flight",
				},
			),
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_runs_total",
					Help: "Total number of agent runs by final status",
				},
				[]string{"action", "status"},
			),
			RunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "foreman_run_duration_seconds",
					Help:    "Agent run duration in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to 68min
				},
				[]string{"action", "status"},
			),
			RunEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_run_events_total",
					Help: "Total number of session events consumed",
				},
				[]string{"event_type", "source"}, // source: stream, poll
			),
			StreamFallbacks: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "foreman_stream_fallbacks_total",
					Help: "Total number of stream drops that fell back to polling",
				},
			),

			PermissionDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_permission_decisions_total",
					Help: "Total number of permission requests arbitrated",
				},
				[]string{"mode", "verdict"},
			),
			QuestionsRejected: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "foreman_questions_rejected_total",
					Help: "Total number of agent questions auto-rejected",
				},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_events_published_total",
					Help: "Total number of lifecycle events published",
				},
				[]string{"subject"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "foreman_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "foreman_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordDispatch records an event matched to a rule
func (m *Metrics) RecordDispatch(rule, action string) {
	m.DispatchesTotal.WithLabelValues(rule, action).Inc()
}

// RecordRun records a completed run with its duration
func (m *Metrics) RecordRun(action, status string, seconds float64) {
	m.RunsTotal.WithLabelValues(action, status).Inc()
	m.RunDuration.WithLabelValues(action, status).Observe(seconds)
}

// RecordPermission records permission arbitration outcomes
func (m *Metrics) RecordPermission(mode, verdict string, count int) {
	m.PermissionDecisions.WithLabelValues(mode, verdict).Add(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
