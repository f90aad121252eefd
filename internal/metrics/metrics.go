// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docreduce"

// Metrics holds all application collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Task throughput
	TokensPerSecond *prometheus.HistogramVec
	TaskDuration    *prometheus.HistogramVec

	// Ingestion
	FilesProcessedTotal *prometheus.CounterVec
	ChunksCreatedTotal  prometheus.Counter
	IndexRows           prometheus.Gauge

	// Reduction
	ReduceUnitsTotal    *prometheus.CounterVec
	ReducePasses        *prometheus.HistogramVec
	ReduceDegradedTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TokensPerSecond: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_tokens_per_second",
				Help:      "Input tokens processed per second of wall time, by task kind",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"kind"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall time of measured tasks in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		FilesProcessedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Source files handled by ingestion, by outcome",
			},
			[]string{"status"},
		),
		ChunksCreatedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_created_total",
				Help:      "Chunks produced by the chunker",
			},
		),
		IndexRows: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_rows",
				Help:      "Vectors currently stored in the index",
			},
		),

		ReduceUnitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reduce_units_total",
				Help:      "Units transformed during reduction, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		ReducePasses: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reduce_passes",
				Help:      "Map passes needed per reduction",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"strategy"},
		),
		ReduceDegradedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reduce_degraded_total",
				Help:      "Reductions that returned a degraded result, by reason",
			},
			[]string{"strategy", "reason"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTask records one measured task. The kind label is the task name
// up to its first underscore so per-file task names do not explode
// cardinality.
func (m *Metrics) ObserveTask(task string, tokensPerSecond, seconds float64) {
	if m == nil {
		return
	}
	kind := TaskKind(task)
	m.TokensPerSecond.WithLabelValues(kind).Observe(tokensPerSecond)
	m.TaskDuration.WithLabelValues(kind).Observe(seconds)
}

// TaskKind maps "extract_report.pdf" to "extract".
func TaskKind(task string) string {
	if i := strings.IndexByte(task, '_'); i > 0 {
		return task[:i]
	}
	if task == "" {
		return "unknown"
	}
	return task
}
