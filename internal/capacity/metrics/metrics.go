package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the capacity allocator hot path.
type Metrics struct {
	ReserveOutcomes *prometheus.CounterVec
	Releases        *prometheus.CounterVec
	ReserveDuration prometheus.Histogram
	SweptOrphans    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ReserveOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_slot_reserve_total",
			Help: "Slot reservation attempts by outcome (reserved, existing, ineligible, exhausted, error)",
		}, []string{"outcome"}),
		Releases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_slot_release_total",
			Help: "Slots released, by reason",
		}, []string{"reason"}),
		ReserveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "badal_slot_reserve_duration_seconds",
			Help:    "Duration of TryReserveSlot including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		SweptOrphans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "badal_slot_orphans_swept_total",
			Help: "Stale reservations force-released by the reconciliation sweep",
		}),
	}
}

func (m *Metrics) IncrementReserve(outcome string) {
	m.ReserveOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRelease(reason string) {
	m.Releases.WithLabelValues(reason).Inc()
}

// ObserveReserve records the duration since start.
func (m *Metrics) ObserveReserve(start time.Time) {
	m.ReserveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddSwept(n int) {
	m.SweptOrphans.Add(float64(n))
}
