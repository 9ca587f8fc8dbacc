package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the provisioning core's Prometheus metrics.
// All methods on a nil *Metrics are safe no-ops.
type Metrics struct {
	KnowledgeBasesCreated prometheus.Counter
	AgentsCreated         prometheus.Counter
	CacheHits             *prometheus.CounterVec
	StoreHits             *prometheus.CounterVec
	DeploymentWaits       prometheus.Histogram
	ReconcilerRuns        *prometheus.CounterVec
	ActiveReconcilers     prometheus.Gauge
	LinkingFailures       prometheus.Counter
}

// NewMetrics creates and registers provisioning metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		KnowledgeBasesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "knowledge_bases_created_total",
			Help:      "Total knowledge bases created on the provider.",
		}),
		AgentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "agents_created_total",
			Help:      "Total agents created on the provider.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "cache_hits_total",
			Help:      "Resource cache hits by record kind.",
		}, []string{"kind"}),
		StoreHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "store_hits_total",
			Help:      "Durable store read-through hits by record kind.",
		}, []string{"kind"}),
		DeploymentWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "deployment_wait_seconds",
			Help:      "Time spent waiting synchronously for agent deployment.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180},
		}),
		ReconcilerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "reconciler_runs_total",
			Help:      "Background reconciliation runs by outcome.",
		}, []string{"outcome"}),
		ActiveReconcilers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "active_reconcilers",
			Help:      "Background reconcilers currently in flight.",
		}),
		LinkingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msaidizi",
			Subsystem: "provision",
			Name:      "linking_failures_total",
			Help:      "Deferred linking attempts that did not fully complete.",
		}),
	}

	reg.MustRegister(
		m.KnowledgeBasesCreated,
		m.AgentsCreated,
		m.CacheHits,
		m.StoreHits,
		m.DeploymentWaits,
		m.ReconcilerRuns,
		m.ActiveReconcilers,
		m.LinkingFailures,
	)
	return m
}

func (m *Metrics) cacheHit(kind string) {
	if m != nil {
		m.CacheHits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) storeHit(kind string) {
	if m != nil {
		m.StoreHits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) reconcilerRun(outcome string) {
	if m != nil {
		m.ReconcilerRuns.WithLabelValues(outcome).Inc()
	}
}
