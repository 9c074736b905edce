// Package metrics holds the Prometheus instrumentation for capture
// decoding and rule evaluation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for an analysis run.
type Metrics struct {
	EventsDecodedTotal  prometheus.Counter
	RecordsSkippedTotal prometheus.Counter
	RulesEvaluatedTotal prometheus.Counter
	FindingsTotal       prometheus.Counter
	AnalysesTotal       prometheus.Counter
	AnalysisDuration    prometheus.Histogram
}

// New creates a Metrics instance registered against reg. Callers that want
// the default registry pass prometheus.DefaultRegisterer; tests pass a
// fresh prometheus.NewRegistry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDecodedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbench_events_decoded_total",
			Help: "Total number of capture events decoded",
		}),
		RecordsSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbench_records_skipped_total",
			Help: "Total number of corrupt records skipped during decoding",
		}),
		RulesEvaluatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbench_rules_evaluated_total",
			Help: "Total number of rule-to-process evaluations",
		}),
		FindingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbench_findings_total",
			Help: "Total number of rule findings produced",
		}),
		AnalysesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "procbench_analyses_total",
			Help: "Total number of completed analyses",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procbench_analysis_duration_seconds",
			Help:    "End-to-end analysis duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
