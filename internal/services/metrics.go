package services

import (
	"time"

	"ambia/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Generator metrics
	GenerationDuration *prometheus.HistogramVec
	GenerationErrors   *prometheus.CounterVec

	// Background work
	Enrichments    *prometheus.CounterVec
	JobRuns        *prometheus.CounterVec
	ThinkDecisions *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Lookups by outcome (hit, miss, expired) and tier
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambia_cache_lookups_total",
			Help: "Total number of page cache lookups by result and tier",
		}, []string{"result", "tier"}),

		// Generator latency; source is request, proactive, pregenerate or queue
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ambia_generation_duration_seconds",
			Help:    "Generator call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source"}),

		GenerationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambia_generation_errors_total",
			Help: "Total number of failed generator calls by source",
		}, []string{"source"}),

		Enrichments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambia_enrichment_total",
			Help: "Total number of enrichment attempts by result",
		}, []string{"result"}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambia_job_runs_total",
			Help: "Total number of scheduled job runs by job and result",
		}, []string{"job", "result"}),

		ThinkDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ambia_think_decisions_total",
			Help: "Total number of think decisions by action",
		}, []string{"action"}),
	}
}

// RecordCacheLookup records one cache lookup
func (m *Metrics) RecordCacheLookup(result string, tier models.Tier) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result, tier.String()).Inc()
}

// RecordGeneration records generator latency, and an error when err is set
func (m *Metrics) RecordGeneration(source string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if err != nil {
		m.GenerationErrors.WithLabelValues(source).Inc()
	}
}

// RecordEnrichment records an enrichment outcome
func (m *Metrics) RecordEnrichment(result string) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(result).Inc()
}

// RecordJobRun records a scheduled job run
func (m *Metrics) RecordJobRun(job, result string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

// RecordDecision records a think decision
func (m *Metrics) RecordDecision(action models.DecisionAction) {
	if m == nil {
		return
	}
	m.ThinkDecisions.WithLabelValues(string(action)).Inc()
}
