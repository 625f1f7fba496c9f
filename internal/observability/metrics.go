// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunsActive   prometheus.Gauge
	RunDuration  prometheus.Histogram
	BatchesTotal *prometheus.CounterVec

	// Warehouse call metrics
	WarehouseCalls       *prometheus.CounterVec
	WarehouseCallLatency *prometheus.HistogramVec
	ModelCacheLookups    *prometheus.CounterVec
	PredictionsStored    prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastCompletedRun prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "walkforward"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total number of runs reaching a terminal status",
		}, []string{"status"}),
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Number of runs currently executing",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "batch_symbols_total",
			Help:      "Total number of processed batch-symbol pairs by outcome",
		}, []string{"outcome"}),

		WarehouseCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "calls_total",
			Help:      "Total number of warehouse calls by method and result",
		}, []string{"method", "result"}),
		WarehouseCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "call_latency_seconds",
			Help:      "Warehouse call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"method"}),
		ModelCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_cache",
			Name:      "lookups_total",
			Help:      "Total number of model cache lookups by result",
		}, []string{"result"}),
		PredictionsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "predictions_stored_total",
			Help:      "Total number of prediction records persisted",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"store", "operation"}),

		LastCompletedRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_completed_run_timestamp",
			Help:      "Unix timestamp of the last completed run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler exposing the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordRunFinished counts a terminal run and its duration.
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
	if status == "completed" {
		m.LastCompletedRun.Set(float64(time.Now().Unix()))
	}
}

// RecordWarehouseCall counts a warehouse call and observes its latency.
func (m *Metrics) RecordWarehouseCall(method string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WarehouseCalls.WithLabelValues(method, result).Inc()
	m.WarehouseCallLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDBQuery observes a store operation.
func (m *Metrics) RecordDBQuery(store, operation string, duration time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(store, operation).Inc()
	}
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)
