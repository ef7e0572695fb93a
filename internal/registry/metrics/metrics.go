package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WorkflowDuration      *prometheus.HistogramVec
	WorkflowOutcomes      *prometheus.CounterVec
	ReconciliationReplays prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		WorkflowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "landledger_workflow_duration_seconds",
			Help:    "End-to-end duration of workflow operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		WorkflowOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "landledger_workflow_outcomes_total",
			Help: "Workflow operations by outcome",
		}, []string{"operation", "outcome"}),
		ReconciliationReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landledger_reconciliation_replays_total",
			Help: "Off-chain writes replayed because the ledger was ahead of the store",
		}),
	}
}

func (m *Metrics) ObserveWorkflow(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.WorkflowDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) RecordOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.WorkflowOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordReplay() {
	if m == nil {
		return
	}
	m.ReconciliationReplays.Inc()
}
