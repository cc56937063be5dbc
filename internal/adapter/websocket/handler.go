package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/adapter/stream"
	"github.com/pscheid92/countpulse/internal/broadcast"
	"github.com/pscheid92/countpulse/internal/domain"
)

type HandlerConfig struct {
	BufferSize     int
	AllowedOrigins []string
	IsDevelopment  bool
}

// Handler serves the push stream: one {"count":N} text frame on connect,
// then one per broadcast. Inbound frames are read only to detect disconnect.
type Handler struct {
	registry   *broadcast.Registry
	store      stream.CounterReader
	limiter    *stream.ConnectionLimiter
	clock      clockwork.Clock
	metrics    *metrics.StreamMetrics
	bufferSize int
	upgrader   websocket.Upgrader
}

func NewHandler(registry *broadcast.Registry, store stream.CounterReader, limiter *stream.ConnectionLimiter, clock clockwork.Clock, cfg HandlerConfig, m *metrics.StreamMetrics) *Handler {
	return &Handler{
		registry:   registry,
		store:      store,
		limiter:    limiter,
		clock:      clock,
		metrics:    m,
		bufferSize: cfg.BufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AllowedOrigins, cfg.IsDevelopment),
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	transport := string(domain.TransportPush)

	if !h.limiter.Acquire() {
		h.metrics.Rejected.WithLabelValues(transport).Inc()
		slog.WarnContext(r.Context(), "Rejecting websocket: connection limit reached", "max", h.limiter.Max())
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer h.limiter.Release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sink := broadcast.NewQueueSink(domain.TransportPush, h.bufferSize)
	if err := h.registry.Add(sink); err != nil {
		slog.WarnContext(r.Context(), "Failed to register websocket sink", "error", err)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, h.clock.Now().Add(writeDeadline))
		return
	}
	defer h.registry.Remove(sink)
	h.metrics.ConnectionsTotal.WithLabelValues(transport).Inc()

	cw := newClientWriter(conn, sink, h.clock, h.metrics, func() {
		h.registry.Remove(sink)
		_ = conn.Close()
	})

	// Read strictly after Add: an update racing in is queued behind the snapshot.
	if err := cw.writeUpdate(stream.InitialCount(r.Context(), h.store)); err != nil {
		slog.DebugContext(r.Context(), "Failed to send websocket snapshot", "error", err)
		return
	}

	cw.start()
	defer cw.stop()

	slog.DebugContext(r.Context(), "WebSocket client connected",
		"sink_id", sink.ID().String(), "connections", h.limiter.Current(), "clients", h.registry.Len())
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			slog.DebugContext(r.Context(), "WebSocket client disconnected", "sink_id", sink.ID().String(), "error", err)
			return
		}
	}
}
