package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/countpulse/internal/domain"
)

// QueueSink buffers updates for one client in a bounded queue. The queue is
// never closed; consumers select on Done to learn the sink was removed.
type QueueSink struct {
	id        uuid.UUID
	transport domain.Transport
	queue     chan domain.CounterUpdate
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ domain.Sink = (*QueueSink)(nil)

func NewQueueSink(transport domain.Transport, capacity int) *QueueSink {
	return &QueueSink{
		id:        uuid.New(),
		transport: transport,
		queue:     make(chan domain.CounterUpdate, max(capacity, 1)),
		done:      make(chan struct{}),
	}
}

func (s *QueueSink) ID() uuid.UUID {
	return s.id
}

func (s *QueueSink) Transport() domain.Transport {
	return s.transport
}

// Deliver enqueues update without blocking. It returns false when the sink
// is closed or its queue is full.
func (s *QueueSink) Deliver(update domain.CounterUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.queue <- update:
		return true
	default:
		return false
	}
}

func (s *QueueSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Updates yields queued values in delivery order.
func (s *QueueSink) Updates() <-chan domain.CounterUpdate {
	return s.queue
}

// Done is closed when the sink is closed.
func (s *QueueSink) Done() <-chan struct{} {
	return s.done
}
