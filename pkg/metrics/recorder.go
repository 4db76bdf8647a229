// Package metrics exports Prometheus collectors for ingestion and query resolution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the FAQ collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ingestRecords   *prometheus.CounterVec
	ingestBatches   *prometheus.CounterVec
	queryOutcomes   *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	consistencyErrs prometheus.Counter
	cacheLookups    *prometheus.CounterVec
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.ingestRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faq",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Ingested records by outcome",
		},
		[]string{"outcome"},
	)
	r.ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faq",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Ingestion batches by overall status",
		},
		[]string{"status"},
	)
	r.queryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faq",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Query resolutions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	r.callLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "faq",
			Name:      "collaborator_latency_seconds",
			Help:      "Latency of calls to the embedding provider and stores",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"collaborator", "operation"},
	)
	r.consistencyErrs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faq",
			Name:      "consistency_violations_total",
			Help:      "Index hits without a matching answer row",
		},
	)
	r.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faq",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Answer cache lookups by result",
		},
		[]string{"result"},
	)

	r.registry.MustRegister(
		r.ingestRecords,
		r.ingestBatches,
		r.queryOutcomes,
		r.callLatency,
		r.consistencyErrs,
		r.cacheLookups,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// IngestRecord counts one record outcome (loaded, skipped, duplicate).
func (r *Recorder) IngestRecord(outcome string) {
	if r == nil {
		return
	}
	r.ingestRecords.WithLabelValues(outcome).Inc()
}

// IngestBatch counts a finished batch.
func (r *Recorder) IngestBatch(status string) {
	if r == nil {
		return
	}
	r.ingestBatches.WithLabelValues(status).Inc()
}

// QueryOutcome counts one resolution.
func (r *Recorder) QueryOutcome(mode, outcome string) {
	if r == nil {
		return
	}
	r.queryOutcomes.WithLabelValues(mode, outcome).Inc()
}

// ObserveCall records how long a collaborator call took.
func (r *Recorder) ObserveCall(collaborator, operation string, started time.Time) {
	if r == nil {
		return
	}
	r.callLatency.WithLabelValues(collaborator, operation).Observe(time.Since(started).Seconds())
}

// ConsistencyViolation counts an index hit with no answer row.
func (r *Recorder) ConsistencyViolation() {
	if r == nil {
		return
	}
	r.consistencyErrs.Inc()
}

// CacheLookup counts a cache hit or miss.
func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}
