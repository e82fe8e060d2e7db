package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tasklane/domain"
)

type mutationMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rejected *prometheus.CounterVec
	inflight prometheus.Gauge
}

// newMutationMetrics registers collectors on reg. A nil reg yields working but
// unregistered collectors.
func newMutationMetrics(reg prometheus.Registerer) *mutationMetrics {
	factory := promauto.With(reg)
	return &mutationMetrics{
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_status_mutations_total",
				Help: "Total number of task status mutations by source and result",
			},
			[]string{"source", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_status_mutation_duration_seconds",
				Help:    "Duration of task status mutations in seconds",
				Buckets: []float64{0.05, 0.1, 0.3, 1, 3, 10},
			},
			[]string{"source"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_status_mutations_in_flight_rejected_total",
				Help: "Requests refused because the task already had a pending mutation",
			},
			[]string{"source"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "task_status_mutations_in_flight",
				Help: "Current number of pending task status mutations",
			},
		),
	}
}

func (m *mutationMetrics) observe(source domain.Source, result string, d time.Duration) {
	m.total.WithLabelValues(string(source), result).Inc()
	m.duration.WithLabelValues(string(source)).Observe(d.Seconds())
}
