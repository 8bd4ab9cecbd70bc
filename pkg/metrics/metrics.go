// Package metrics holds the Prometheus collectors shared by the queue
// packages. Collectors live on a private registry so tests and embedders can
// gather them without touching the global one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var Registry = prometheus.NewRegistry()

var (
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signq_normalize_rejections_total",
		Help: "Raw records dropped by the normalizer, by reason.",
	}, []string{"reason"})

	TierLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signq_tier_loads_total",
		Help: "Reconciliation tier attempts, by tier and outcome (hit, empty, error).",
	}, []string{"tier", "outcome"})

	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signq_mutations_total",
		Help: "Mutations sent to the records collaborator, by operation and outcome.",
	}, []string{"op", "outcome"})
)

func init() {
	Registry.MustRegister(Rejections, TierLoads, Mutations)
}

// Outcome maps an error to the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
