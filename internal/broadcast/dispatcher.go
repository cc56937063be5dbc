package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/domain"
)

const stopTimeout = 10 * time.Second

// Dispatcher pushes each update to every registered sink. Exactly one
// goroutine consumes the update channel, so update N has been offered to
// every sink before update N+1 is read.
type Dispatcher struct {
	registry    *Registry
	clock       clockwork.Clock
	metrics     *metrics.FanoutMetrics
	stopTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(registry *Registry, clock clockwork.Clock, m *metrics.FanoutMetrics) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		clock:       clock,
		metrics:     m,
		stopTimeout: stopTimeout,
	}
}

// Start launches the consumer loop. It returns when updates is closed or
// Stop is called. Calling Start twice has no effect.
func (d *Dispatcher) Start(updates <-chan domain.CounterUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, updates)
}

// Stop stops consuming new updates. An update already being dispatched is
// finished; queued ones are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	timer := d.clock.NewTimer(d.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		slog.Info("Dispatcher stopped")
	case <-timer.Chan():
		slog.Warn("Dispatcher stop timeout exceeded", "timeout", d.stopTimeout)
	}
}

func (d *Dispatcher) run(ctx context.Context, updates <-chan domain.CounterUpdate) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				slog.Info("Update stream closed, dispatcher exiting")
				return
			}
			d.dispatch(update)
		}
	}
}

func (d *Dispatcher) dispatch(update domain.CounterUpdate) {
	start := d.clock.Now()
	sinks := d.registry.Snapshot()

	for _, sink := range sinks {
		transport := string(sink.Transport())
		if d.deliver(sink, update) {
			d.metrics.Deliveries.WithLabelValues(transport, "ok").Inc()
			continue
		}

		d.metrics.Deliveries.WithLabelValues(transport, "failed").Inc()
		if d.registry.Remove(sink) {
			d.metrics.Evictions.WithLabelValues(transport).Inc()
			slog.Debug("Evicted sink after failed delivery", "sink_id", sink.ID().String(), "transport", transport)
		}
	}

	d.metrics.Broadcasts.Inc()
	d.metrics.BroadcastDuration.Observe(d.clock.Since(start).Seconds())
}

// deliver treats a panicking sink as a failed delivery.
func (d *Dispatcher) deliver(sink domain.Sink, update domain.CounterUpdate) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher panic recovered", "panic", r, "sink_id", sink.ID().String(), "count", update.Count)
			d.metrics.DispatchPanics.Inc()
			ok = false
		}
	}()
	return sink.Deliver(update)
}
