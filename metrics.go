package latticeflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRegisterer is the subset of prometheus.Registerer a Pool needs;
// pass prometheus.DefaultRegisterer or a prometheus.NewRegistry() to
// WithMetrics.
type PrometheusRegisterer = prometheus.Registerer

// metricsSet is the Pool's private metrics bundle, registered once per Pool
// with namespace "latticeflow". Left nil (and every call site guarded) when
// WithMetrics is not used, so metrics are strictly opt-in.
type metricsSet struct {
	cellsCreated      prometheus.Counter
	cellsFinalized    prometheus.Counter
	cellAdvances      prometheus.Counter
	unhandledFailures prometheus.Counter
	resolvePasses     *prometheus.CounterVec
}

func newMetricsSet(reg PrometheusRegisterer) *metricsSet {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &metricsSet{
		cellsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "latticeflow",
			Name:      "cells_created_total",
			Help:      "Total cells created on this pool.",
		}),
		cellsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "latticeflow",
			Name:      "cells_finalized_total",
			Help:      "Total cells that have transitioned to final.",
		}),
		cellAdvances: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "latticeflow",
			Name:      "cell_advances_total",
			Help:      "Total non-final join advances across all cells.",
		}),
		unhandledFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "latticeflow",
			Name:      "unhandled_failures_total",
			Help:      "Total callback/init failures routed to the unhandled-exception handler.",
		}),
		resolvePasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latticeflow",
			Name:      "resolve_passes_total",
			Help:      "Total closed-SCC/fallback resolution passes, by kind.",
		}, []string{"kind"}),
	}
}
