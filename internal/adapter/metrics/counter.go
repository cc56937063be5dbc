package metrics

import "github.com/prometheus/client_golang/prometheus"

// CounterMetrics holds Prometheus metrics for counter writes.
type CounterMetrics struct {
	Increments     *prometheus.CounterVec
	IncrementRetry prometheus.Counter
}

// NewCounterMetrics creates and registers counter store metrics on the given registry.
func NewCounterMetrics(reg prometheus.Registerer) *CounterMetrics {
	m := &CounterMetrics{
		Increments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "increments_total",
			Help:      "Total number of increment calls, by result.",
		}, []string{"result"}),
		IncrementRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "increment_retries_total",
			Help:      "Total number of increment attempts retried after a transient failure.",
		}),
	}

	reg.MustRegister(m.Increments, m.IncrementRetry)
	return m
}
