package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for the websocket and SSE endpoints.
type StreamMetrics struct {
	ConnectionsTotal *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
}

// NewStreamMetrics creates and registers stream adapter metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Total number of accepted stream connections, by transport.",
		}, []string{"transport"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Total number of stream connections rejected at the connection limit, by transport.",
		}, []string{"transport"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total number of counter messages written to clients, by transport.",
		}, []string{"transport"}),
	}

	reg.MustRegister(m.ConnectionsTotal, m.Rejected, m.MessagesSent)
	return m
}
