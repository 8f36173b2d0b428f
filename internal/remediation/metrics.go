package remediation

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks remediation dispatch counters.
type Metrics struct {
	Attempts       prometheus.Counter
	Failures       prometheus.Counter
	DedupCollapsed prometheus.Counter
}

// NewMetrics constructs and registers a Metrics instance against reg. reg
// may be nil, in which case the counters are created but not registered
// (used by tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_remediation_attempts_total",
			Help: "Number of outbound reconcile RPC attempts.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_remediation_failures_total",
			Help: "Number of reconcile dispatch loops that ended without success (request rejected or dispatcher closed).",
		}),
		DedupCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_remediation_dedup_collapsed_total",
			Help: "Number of remediation triggers collapsed into an already-outstanding call by the cool-down window.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Failures, m.DedupCollapsed)
	}
	return m
}
