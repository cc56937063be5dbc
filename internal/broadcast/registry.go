package broadcast

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/domain"
)

var (
	ErrDuplicateSink  = errors.New("sink already registered")
	ErrRegistryClosed = errors.New("registry closed")
)

// Registry is the set of currently connected sinks. All membership changes
// and snapshots go through one mutex; sinks are closed outside of it.
type Registry struct {
	mu      sync.Mutex
	sinks   map[uuid.UUID]domain.Sink
	closed  bool
	metrics *metrics.FanoutMetrics
}

func NewRegistry(m *metrics.FanoutMetrics) *Registry {
	return &Registry{
		sinks:   make(map[uuid.UUID]domain.Sink),
		metrics: m,
	}
}

func (r *Registry) Add(sink domain.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.sinks[sink.ID()]; exists {
		return ErrDuplicateSink
	}
	r.sinks[sink.ID()] = sink
	r.metrics.ConnectedSinks.WithLabelValues(string(sink.Transport())).Inc()
	return nil
}

// Remove unregisters and closes sink. Only the first call for a given sink
// does anything; it reports whether this call removed it.
func (r *Registry) Remove(sink domain.Sink) bool {
	r.mu.Lock()
	_, exists := r.sinks[sink.ID()]
	if exists {
		delete(r.sinks, sink.ID())
		r.metrics.ConnectedSinks.WithLabelValues(string(sink.Transport())).Dec()
	}
	r.mu.Unlock()

	if exists {
		sink.Close()
	}
	return exists
}

// Snapshot returns a copy of the current members for one broadcast pass.
func (r *Registry) Snapshot() []domain.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]domain.Sink, 0, len(r.sinks))
	for _, sink := range r.sinks {
		snapshot = append(snapshot, sink)
	}
	return snapshot
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// CloseAll removes and closes every sink, returning how many there were.
// Later calls to Add fail with ErrRegistryClosed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	r.closed = true
	sinks := r.sinks
	r.sinks = make(map[uuid.UUID]domain.Sink)
	for _, sink := range sinks {
		r.metrics.ConnectedSinks.WithLabelValues(string(sink.Transport())).Dec()
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
	return len(sinks)
}
