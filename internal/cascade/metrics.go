package cascade

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cascade-related counters for monitoring and alerting,
// broken down by resource kind the way writes and failures need to be
// distinguished for targeted alerting.
type Metrics struct {
	ModelWrites    *prometheus.CounterVec
	PackageWrites  *prometheus.CounterVec
	Unchanged      *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	InvalidRequest prometheus.Counter

	// QueueDepth is the number of distinct models being fanned out for
	// evaluation in the observation batch currently in flight. Set at the
	// start of ProcessObservationBatch and reset to 0 when it returns.
	QueueDepth prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics instance against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModelWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_state_writes_total",
			Help: "Number of state writes performed by the cascade engine, by resource kind.",
		}, []string{"kind"}),
		PackageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_package_transitions_total",
			Help: "Number of package state transitions, by resulting state.",
		}, []string{"state"}),
		Unchanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_unchanged_total",
			Help: "Number of evaluations that produced no write because the state was already current, by resource kind.",
		}, []string{"kind"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_store_errors_total",
			Help: "Number of store operation failures observed by the cascade engine, by operation.",
		}, []string{"op"}),
		InvalidRequest: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_invalid_requests_total",
			Help: "Number of state-change requests rejected as invalid or unknown.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_batch_models_in_flight",
			Help: "Number of distinct models being evaluated in the observation batch the engine is currently processing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ModelWrites, m.PackageWrites, m.Unchanged, m.StoreErrors, m.InvalidRequest, m.QueueDepth)
	}
	return m
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// GlobalMetrics returns a process-wide Metrics instance registered against
// the default Prometheus registry, created on first access.
func GlobalMetrics() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}
