package metrics

import "github.com/prometheus/client_golang/prometheus"

// ListenerMetrics holds Prometheus metrics for the database notification listener.
type ListenerMetrics struct {
	Connected     prometheus.Gauge
	Reconnects    prometheus.Counter
	Notifications *prometheus.CounterVec
}

// NewListenerMetrics creates and registers listener metrics on the given registry.
func NewListenerMetrics(reg prometheus.Registerer) *ListenerMetrics {
	m := &ListenerMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connected",
			Help:      "1 while the notification subscription is active.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts after a lost subscription.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "notifications_total",
			Help:      "Total number of notifications received, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Connected, m.Reconnects, m.Notifications)
	return m
}
