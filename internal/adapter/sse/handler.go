package sse

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/adapter/stream"
	"github.com/pscheid92/countpulse/internal/broadcast"
	"github.com/pscheid92/countpulse/internal/domain"
)

// keepAliveInterval stays below common proxy idle timeouts.
const keepAliveInterval = 30 * time.Second

// Handler serves the pull stream: the snapshot as the first event, then one
// data event per broadcast until the client goes away or the sink is closed.
type Handler struct {
	registry   *broadcast.Registry
	store      stream.CounterReader
	limiter    *stream.ConnectionLimiter
	clock      clockwork.Clock
	metrics    *metrics.StreamMetrics
	bufferSize int
}

func NewHandler(registry *broadcast.Registry, store stream.CounterReader, limiter *stream.ConnectionLimiter, clock clockwork.Clock, bufferSize int, m *metrics.StreamMetrics) *Handler {
	return &Handler{
		registry:   registry,
		store:      store,
		limiter:    limiter,
		clock:      clock,
		metrics:    m,
		bufferSize: bufferSize,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	transport := string(domain.TransportPull)

	if !h.limiter.Acquire() {
		h.metrics.Rejected.WithLabelValues(transport).Inc()
		slog.WarnContext(ctx, "Rejecting SSE client: connection limit reached", "max", h.limiter.Max())
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer h.limiter.Release()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.DebugContext(ctx, "Could not disable SSE write deadline", "error", err)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	sink := broadcast.NewQueueSink(domain.TransportPull, h.bufferSize)
	if err := h.registry.Add(sink); err != nil {
		if errors.Is(err, broadcast.ErrRegistryClosed) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		slog.ErrorContext(ctx, "Failed to register SSE sink", "error", err)
		http.Error(w, "failed to register stream", http.StatusInternalServerError)
		return
	}
	defer h.registry.Remove(sink)
	h.metrics.ConnectionsTotal.WithLabelValues(transport).Inc()

	w.WriteHeader(http.StatusOK)

	// Read strictly after Add: an update racing in is queued behind the snapshot.
	if err := h.writeUpdate(w, rc, stream.InitialCount(ctx, h.store)); err != nil {
		slog.DebugContext(ctx, "Failed to send SSE snapshot", "error", err)
		return
	}

	slog.DebugContext(ctx, "SSE client connected",
		"sink_id", sink.ID().String(), "connections", h.limiter.Current(), "clients", h.registry.Len())

	keepAlive := h.clock.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "SSE client disconnected", "sink_id", sink.ID().String())
			return
		case <-sink.Done():
			slog.DebugContext(ctx, "SSE sink closed", "sink_id", sink.ID().String())
			return
		case update := <-sink.Updates():
			if err := h.writeUpdate(w, rc, update); err != nil {
				slog.DebugContext(ctx, "SSE write failed", "sink_id", sink.ID().String(), "error", err)
				return
			}
		case <-keepAlive.Chan():
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeUpdate(w http.ResponseWriter, rc *http.ResponseController, update domain.CounterUpdate) error {
	data, err := stream.Encode(update)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	h.metrics.MessagesSent.WithLabelValues(string(domain.TransportPull)).Inc()
	return nil
}
