package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks certification lifecycle activity.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	RejectedOperations *prometheus.CounterVec
	Violations         *prometheus.CounterVec
	Recommendations    prometheus.Counter
	TrustScore         prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_certification_transitions_total",
			Help: "Certification status transitions by target status",
		}, []string{"to"}),
		RejectedOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_certification_rejected_total",
			Help: "Certification operations rejected, by operation and error code",
		}, []string{"operation", "code"}),
		Violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_violations_recorded_total",
			Help: "Violations recorded, by severity",
		}, []string{"severity"}),
		Recommendations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "badal_suspension_recommendations_total",
			Help: "Suspension recommendations raised by the trust engine",
		}),
		TrustScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "badal_trust_score",
			Help:    "Trust score observed after each score change",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

func (m *Metrics) IncrementTransition(to string) {
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncrementRejected(operation, code string) {
	m.RejectedOperations.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) IncrementViolation(severity string) {
	m.Violations.WithLabelValues(severity).Inc()
}

func (m *Metrics) IncrementRecommendation() {
	m.Recommendations.Inc()
}

func (m *Metrics) ObserveTrustScore(score int) {
	m.TrustScore.Observe(float64(score))
}
