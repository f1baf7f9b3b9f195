// Package metrics provides Prometheus metrics for the harness control
// plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the control plane registers.
type Metrics struct {
	registry *prometheus.Registry

	// Run/batch metrics.
	RunsTotal      *prometheus.CounterVec
	RunsActive     prometheus.Gauge
	RunDuration    *prometheus.HistogramVec
	BatchesTotal   *prometheus.CounterVec
	BatchRetries   *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	QueueWaitTime  prometheus.Histogram

	// Scoring/evaluation metrics.
	ScorerDuration        prometheus.Histogram
	EvaluatorQueueDepth   prometheus.Gauge
	EvaluationsTotal      *prometheus.CounterVec

	// Collection metrics.
	CollectionSize *prometheus.GaugeVec

	// HTTP API metrics.
	APIRequestDuration *prometheus.HistogramVec
	APIRequestsTotal   *prometheus.CounterVec

	// Realtime websocket metrics.
	WebSocketConnections prometheus.Gauge
}

// NewMetrics creates a Metrics instance with every metric registered
// against a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "harness",
				Subsystem: "run",
				Name:      "runs_total",
				Help:      "Total number of runs by terminal status.",
			},
			[]string{"status"},
		),
		RunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "harness",
				Subsystem: "run",
				Name:      "runs_active",
				Help:      "Number of runs currently executing.",
			},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "harness",
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Duration of a run from submission to terminal status.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status", "model"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "harness",
				Subsystem: "batch",
				Name:      "batches_total",
				Help:      "Total number of batches by terminal status.",
			},
			[]string{"status"},
		),
		BatchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "harness",
				Subsystem: "batch",
				Name:      "retries_total",
				Help:      "Total number of batch retry attempts by error kind.",
			},
			[]string{"kind"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "harness",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of runs enqueued but not yet dispatched.",
			},
		),
		QueueWaitTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "harness",
				Subsystem: "queue",
				Name:      "wait_seconds",
				Help:      "Time a run spent queued before dispatch.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		ScorerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "harness",
				Subsystem: "scorer",
				Name:      "duration_seconds",
				Help:      "Time taken to score one artifact against its suite.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		EvaluatorQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "harness",
				Subsystem: "evaluator",
				Name:      "queue_depth",
				Help:      "Number of artifacts awaiting evaluation.",
			},
		),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "harness",
				Subsystem: "evaluator",
				Name:      "evaluations_total",
				Help:      "Total number of artifact evaluations by terminal status.",
			},
			[]string{"status"},
		),
		CollectionSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "harness",
				Subsystem: "collection",
				Name:      "member_count",
				Help:      "Number of artifacts in a collection.",
			},
			[]string{"collection"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "harness",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "harness",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP API requests.",
			},
			[]string{"method", "path", "status"},
		),
		WebSocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "harness",
				Subsystem: "websocket",
				Name:      "connections_active",
				Help:      "Number of active realtime subscriber connections.",
			},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunsActive,
		m.RunDuration,
		m.BatchesTotal,
		m.BatchRetries,
		m.QueueDepth,
		m.QueueWaitTime,
		m.ScorerDuration,
		m.EvaluatorQueueDepth,
		m.EvaluationsTotal,
		m.CollectionSize,
		m.APIRequestDuration,
		m.APIRequestsTotal,
		m.WebSocketConnections,
	)

	return m
}

// RecordAPIRequest records one completed HTTP API request.
func (m *Metrics) RecordAPIRequest(method, path, status string, durationSeconds float64) {
	m.APIRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRunComplete records a run reaching a terminal status.
func (m *Metrics) RecordRunComplete(status, model string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status, model).Observe(durationSeconds)
}

// RecordBatchComplete records a batch reaching a terminal status.
func (m *Metrics) RecordBatchComplete(status string) {
	m.BatchesTotal.WithLabelValues(status).Inc()
}

// RecordBatchRetry records one retry attempt classified by error kind.
func (m *Metrics) RecordBatchRetry(kind string) {
	m.BatchRetries.WithLabelValues(kind).Inc()
}

// RecordScorerDuration records the time taken to score one artifact.
func (m *Metrics) RecordScorerDuration(durationSeconds float64) {
	m.ScorerDuration.Observe(durationSeconds)
}

// RecordEvaluationComplete records an evaluation reaching a terminal status.
func (m *Metrics) RecordEvaluationComplete(status string) {
	m.EvaluationsTotal.WithLabelValues(status).Inc()
}

// SetActiveRuns sets the current count of in-flight runs.
func (m *Metrics) SetActiveRuns(count float64) {
	m.RunsActive.Set(count)
}

// SetQueueDepth sets the current queue-wide backlog size.
func (m *Metrics) SetQueueDepth(count float64) {
	m.QueueDepth.Set(count)
}

// RecordQueueWait records the time a run spent queued before dispatch.
func (m *Metrics) RecordQueueWait(durationSeconds float64) {
	m.QueueWaitTime.Observe(durationSeconds)
}

// SetEvaluatorQueueDepth sets the current evaluator backlog size.
func (m *Metrics) SetEvaluatorQueueDepth(count float64) {
	m.EvaluatorQueueDepth.Set(count)
}

// SetCollectionSize sets the member count of a named collection.
func (m *Metrics) SetCollectionSize(collection string, count float64) {
	m.CollectionSize.WithLabelValues(collection).Set(count)
}

// SetWebSocketConnections sets the count of active realtime connections.
func (m *Metrics) SetWebSocketConnections(count float64) {
	m.WebSocketConnections.Set(count)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 10,
		},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
