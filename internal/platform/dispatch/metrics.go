package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for background side effects.
type Metrics struct {
	TaskOutcome  *prometheus.CounterVec
	TaskRetries  *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	QueueDepth   prometheus.Gauge
}

// NewMetrics registers dispatcher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TaskOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_dispatch_tasks_total",
			Help: "Background tasks by name and final outcome",
		}, []string{"task", "outcome"}), // outcome: "ok", "abandoned"

		TaskRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_dispatch_task_retries_total",
			Help: "Retry attempts of background tasks",
		}, []string{"task"}),

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vouch_dispatch_task_duration_seconds",
			Help:    "Duration of background tasks including retries",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"task"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "vouch_dispatch_queue_depth",
			Help: "Tasks waiting for a worker",
		}),
	}
}

func (m *Metrics) observe(task string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "abandoned"
	}
	m.TaskOutcome.WithLabelValues(task, outcome).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) incRetry(task string) {
	if m != nil {
		m.TaskRetries.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
