// Package metrics collects prometheus counters for the auth operations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder is what the controllers depend on.
type Recorder interface {
	RecordAuth(operation, outcome string)
}

type Collector struct {
	authOps *prometheus.CounterVec
}

// NewCollector registers the auth counters on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(c.authOps)
	return c
}

func (c *Collector) RecordAuth(operation, outcome string) {
	c.authOps.WithLabelValues(operation, outcome).Inc()
}
