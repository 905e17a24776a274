package securityscore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecomputeDuration prometheus.Histogram
	Coalesced         prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vouch_security_score_recompute_duration_seconds",
			Help:    "Time to read records, compute and store a security score",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "vouch_security_score_recompute_coalesced_total",
			Help: "Recompute calls served by a computation that started after they were requested",
		}),
	}
}

func (m *Metrics) observeRecompute(d time.Duration) {
	if m != nil {
		m.RecomputeDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) incCoalesced() {
	if m != nil {
		m.Coalesced.Inc()
	}
}
