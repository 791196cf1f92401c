package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers certificate issuance and public verification.
type Metrics struct {
	Issued        *prometheus.CounterVec
	Lookups       *prometheus.CounterVec
	LookupLatency prometheus.Histogram
	CacheResults  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_certificates_issued_total",
			Help: "Certificate issue attempts by outcome (issued, reissued, not_all_steps_verified, error)",
		}, []string{"outcome"}),
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_certificate_lookups_total",
			Help: "Public verification lookups by result (valid, invalid)",
		}, []string{"result"}),
		LookupLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "badal_certificate_lookup_duration_seconds",
			Help:    "Public verification latency including the response floor",
			Buckets: []float64{.05, .1, .15, .2, .3, .5, 1, 2},
		}),
		CacheResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "badal_certificate_cache_results_total",
			Help: "Verification cache results (hit, miss, error, bypassed)",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementIssued(outcome string) {
	m.Issued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLookup(valid bool, d time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Lookups.WithLabelValues(result).Inc()
	m.LookupLatency.Observe(d.Seconds())
}

func (m *Metrics) IncrementCache(result string) {
	m.CacheResults.WithLabelValues(result).Inc()
}
