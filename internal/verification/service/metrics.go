package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vouch/internal/verification/models"
)

// Metrics provides observability for the orchestrator.
type Metrics struct {
	Submitted   *prometheus.CounterVec
	Outcomes    *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	InFlight    prometheus.Gauge
	Expired     prometheus.Counter
	Reconciled  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_verifications_submitted_total",
			Help: "Verification requests created, by kind",
		}, []string{"kind"}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_verification_outcomes_total",
			Help: "Terminal outcomes of verification runs, by kind and status",
		}, []string{"kind", "status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vouch_verification_run_duration_seconds",
			Help:    "Time from claiming a request to writing its terminal state",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vouch_verification_runs_in_flight",
			Help: "Verification runs currently processing on this replica",
		}),

		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "vouch_verifications_expired_total",
			Help: "Verified records moved to expired by the sweep",
		}),

		Reconciled: f.NewCounter(prometheus.CounterOpts{
			Name: "vouch_verifications_reconciled_total",
			Help: "Stuck processing records rejected by reconciliation",
		}),
	}
}

func (m *Metrics) incSubmitted(kind models.KindName) {
	if m != nil {
		m.Submitted.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) observeRun(kind models.KindName, status models.Status, d time.Duration) {
	if m != nil {
		m.Outcomes.WithLabelValues(string(kind), string(status)).Inc()
		m.RunDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) incInFlight() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) decInFlight() {
	if m != nil {
		m.InFlight.Dec()
	}
}

func (m *Metrics) addExpired(n int) {
	if m != nil {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) addReconciled(n int) {
	if m != nil {
		m.Reconciled.Add(float64(n))
	}
}
