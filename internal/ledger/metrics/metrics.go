package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ledger traffic from the engine's side.
type Metrics struct {
	SubmissionsTotal     *prometheus.CounterVec
	ConfirmationWait     prometheus.Histogram
	ConfirmationTimeouts prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "landledger_ledger_submissions_total",
			Help: "Ledger submissions by call kind and outcome",
		}, []string{"kind", "outcome"}),
		ConfirmationWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "landledger_ledger_confirmation_wait_seconds",
			Help:    "Time spent waiting for ledger confirmations",
			Buckets: prometheus.DefBuckets,
		}),
		ConfirmationTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landledger_ledger_confirmation_timeouts_total",
			Help: "Confirmation waits that hit their deadline",
		}),
	}
}

func (m *Metrics) RecordSubmission(kind, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveConfirmationWait(seconds float64) {
	if m == nil {
		return
	}
	m.ConfirmationWait.Observe(seconds)
}

func (m *Metrics) RecordConfirmationTimeout() {
	if m == nil {
		return
	}
	m.ConfirmationTimeouts.Inc()
}
