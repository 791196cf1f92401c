package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the ritual proof ledger and its fraud rules.
type Metrics struct {
	Appends       *prometheus.CounterVec
	Signals       *prometheus.CounterVec
	Verifications prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_ritual_event_appends_total",
			Help: "Ritual event append attempts by outcome (recorded, flagged, out_of_order, duplicate_step, error)",
		}, []string{"outcome"}),
		Signals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_ritual_fraud_signals_total",
			Help: "Fraud rules tripped by appended ritual events",
		}, []string{"rule"}),
		Verifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "badal_ritual_event_verifications_total",
			Help: "Ritual events verified by a reviewer",
		}),
	}
}

func (m *Metrics) IncrementAppend(outcome string) {
	m.Appends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementSignal(rule string) {
	m.Signals.WithLabelValues(rule).Inc()
}

func (m *Metrics) IncrementVerification() {
	m.Verifications.Inc()
}
