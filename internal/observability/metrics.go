// Package observability exports benchmark and search progress as Prometheus
// metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkilian/indexsearch/pkg/types"
)

const namespace = "indexsearch"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	indexOperations *prometheus.CounterVec
	workerFailures  *prometheus.CounterVec
	lastMetric      *prometheus.GaugeVec
	bestFitness     prometheus.Gauge
	generation      prometheus.Gauge
	sequence        prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// stageDuration measures benchmark stages.
		// Labels: stage (power, throughput, query_stream, refresh_stream, storage_size, runtime)
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of benchmark stages",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"stage"}),

		// evaluations counts evaluate calls.
		// Labels: status (ok, failed, fake)
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "evaluations_total",
			Help:      "Candidate evaluations by status",
		}, []string{"status"}),

		indexOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Index DDL operations by outcome",
		}, []string{"outcome"}),

		workerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "worker_failures_total",
			Help:      "Throughput workers that failed or timed out",
		}, []string{"kind"}),

		lastMetric: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "last_value",
			Help:      "Most recent value of each benchmark metric",
		}, []string{"metric"}),

		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "best_fitness",
			Help:      "Best fitness seen so far",
		}),

		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "generation",
			Help:      "Current search generation",
		}),

		sequence: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "benchmark",
			Name:      "refresh_sequence",
			Help:      "Next refresh set to be consumed",
		}),
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records the duration of a benchmark stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// EvaluationDone counts one evaluation.
func (m *Metrics) EvaluationDone(status string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(status).Inc()
}

// IndexOperation counts one index DDL outcome.
func (m *Metrics) IndexOperation(outcome string) {
	if m == nil {
		return
	}
	m.indexOperations.WithLabelValues(outcome).Inc()
}

// WorkerFailed counts a failed throughput worker. kind is failure or timeout.
func (m *Metrics) WorkerFailed(kind string) {
	if m == nil {
		return
	}
	m.workerFailures.WithLabelValues(kind).Inc()
}

// SetLastMetrics publishes the non-zero fields of mt.
func (m *Metrics) SetLastMetrics(mt types.Metrics) {
	if m == nil {
		return
	}
	for name, v := range mt.AsMap() {
		if v != 0 {
			m.lastMetric.WithLabelValues(name).Set(v)
		}
	}
}

// SetBestFitness publishes the best fitness so far.
func (m *Metrics) SetBestFitness(v float64) {
	if m == nil {
		return
	}
	m.bestFitness.Set(v)
}

// SetGeneration publishes the current generation.
func (m *Metrics) SetGeneration(g int) {
	if m == nil {
		return
	}
	m.generation.Set(float64(g))
}

// SetSequence publishes the refresh sequence counter.
func (m *Metrics) SetSequence(n int) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(n))
}
