package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the reconciliation sweep.
type Metrics struct {
	Sweeps        prometheus.Counter
	SweepErrors   prometheus.Counter
	AgentsResumed prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewMetrics creates and registers sweep metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total reconciliation sweeps completed.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "sweep_errors_total",
			Help:      "Total sweeps aborted because the pending-agent query failed.",
		}),
		AgentsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "agents_resumed_total",
			Help:      "Total stranded agents handed back to the reconciler.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msaidizi",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each reconciliation sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}

	reg.MustRegister(
		m.Sweeps,
		m.SweepErrors,
		m.AgentsResumed,
		m.SweepDuration,
	)

	return m
}
