// Package metrics exposes Prometheus instruments for the query pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts queries and times each stage.
type PipelineMetrics struct {
	queriesTotal  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	softFailures  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline instruments on reg, or the default registerer when nil.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrivoice",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total processed queries by input mode and outcome",
		}, []string{"mode", "outcome", "error_kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrivoice",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		softFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrivoice",
			Subsystem: "pipeline",
			Name:      "soft_failures_total",
			Help:      "Degraded stages absorbed without failing the query",
		}, []string{"kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrivoice",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrivoice",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"mode", "from_cache"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queriesTotal, m.stageDuration, m.softFailures, m.cacheLookups, m.queryDuration)
	return m
}

// ObserveQuery records a finished query.
func (m *PipelineMetrics) ObserveQuery(mode string, success, fromCache bool, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.queriesTotal.WithLabelValues(mode, outcome, errorKind).Inc()
	m.queryDuration.WithLabelValues(mode, boolLabel(fromCache)).Observe(d.Seconds())
}

// ObserveStage records how long a stage took.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveSoftFailure counts a degraded stage.
func (m *PipelineMetrics) ObserveSoftFailure(kind string) {
	if m == nil {
		return
	}
	m.softFailures.WithLabelValues(kind).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func (m *PipelineMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
