package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/domain"
)

// fakeSink records deliveries. A broken sink rejects every delivery; a
// panicking one panics inside Deliver.
type fakeSink struct {
	id        uuid.UUID
	transport domain.Transport
	broken    bool
	panics    bool
	onDeliver func(domain.CounterUpdate)

	mu       sync.Mutex
	received []int64
	closes   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{id: uuid.New(), transport: domain.TransportPush}
}

func (s *fakeSink) ID() uuid.UUID               { return s.id }
func (s *fakeSink) Transport() domain.Transport { return s.transport }

func (s *fakeSink) Deliver(update domain.CounterUpdate) bool {
	if s.panics {
		panic("sink exploded")
	}
	if s.onDeliver != nil {
		s.onDeliver(update)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken || s.closes > 0 {
		return false
	}
	s.received = append(s.received, update.Count)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

func (s *fakeSink) values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.received...)
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func newTestMetrics() *metrics.FanoutMetrics {
	return metrics.NewFanoutMetrics(prometheus.NewRegistry())
}

// startDispatcher wires a registry and a running dispatcher to an update channel.
func startDispatcher(t *testing.T) (*Registry, chan domain.CounterUpdate, *metrics.FanoutMetrics) {
	t.Helper()

	m := newTestMetrics()
	registry := NewRegistry(m)
	d := NewDispatcher(registry, clockwork.NewRealClock(), m)
	updates := make(chan domain.CounterUpdate)
	d.Start(updates)
	t.Cleanup(d.Stop)
	return registry, updates, m
}

// publish sends updates on an unbuffered channel. The dispatcher finishes an
// update before reading the next, so after a trailing sentinel every earlier
// update has been fully dispatched.
func publish(t *testing.T, updates chan<- domain.CounterUpdate, counts ...int64) {
	t.Helper()
	for _, c := range counts {
		select {
		case updates <- domain.CounterUpdate{Count: c}:
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatcher did not accept update %d", c)
		}
	}
}

func flush(t *testing.T, updates chan<- domain.CounterUpdate) {
	t.Helper()
	publish(t, updates, -1)
	publish(t, updates, -1)
}
