package metrics

import "github.com/prometheus/client_golang/prometheus"

// FanoutMetrics holds Prometheus metrics for the sink registry and the dispatcher.
type FanoutMetrics struct {
	ConnectedSinks    *prometheus.GaugeVec
	Broadcasts        prometheus.Counter
	Deliveries        *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
	DispatchPanics    prometheus.Counter
}

// NewFanoutMetrics creates and registers fan-out metrics on the given registry.
func NewFanoutMetrics(reg prometheus.Registerer) *FanoutMetrics {
	m := &FanoutMetrics{
		ConnectedSinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "connected_sinks",
			Help:      "Number of registered streaming clients, by transport.",
		}, []string{"transport"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Total number of counter updates broadcast.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Total number of per-sink delivery attempts, by transport and result.",
		}, []string{"transport", "result"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "evictions_total",
			Help:      "Total number of sinks removed after a failed delivery, by transport.",
		}, []string{"transport"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to deliver one update to every registered sink.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		DispatchPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dispatch_panics_total",
			Help:      "Total number of recovered panics while dispatching an update.",
		}),
	}

	reg.MustRegister(m.ConnectedSinks, m.Broadcasts, m.Deliveries, m.Evictions, m.BroadcastDuration, m.DispatchPanics)
	return m
}
