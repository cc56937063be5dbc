package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/domain"
	"github.com/pscheid92/countpulse/internal/platform/retry"
)

const (
	updatesBufferSize    = 256
	listenerCloseTimeout = 5 * time.Second
	maxLoggedPayload     = 128
)

// NotificationConn is the subset of *pgx.Conn the listener needs.
type NotificationConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens the dedicated connection the listener subscribes on.
type DialFunc func(ctx context.Context) (NotificationConn, error)

// Dialer returns a DialFunc that opens a standalone connection outside any pool.
func Dialer(databaseURL string) DialFunc {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect listener: %w", err)
		}
		return conn, nil
	}
}

type ListenerConfig struct {
	Channel        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Listener keeps one LISTEN subscription open and forwards decoded counter
// updates, in arrival order, on a single channel. Lost connections are
// re-established with capped exponential backoff.
type Listener struct {
	dial    DialFunc
	channel string
	backoff *retry.Backoff
	clock   clockwork.Clock
	metrics *metrics.ListenerMetrics

	updates    chan domain.CounterUpdate
	connected  atomic.Bool
	subscribed atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewListener(dial DialFunc, cfg ListenerConfig, clock clockwork.Clock, m *metrics.ListenerMetrics) *Listener {
	return &Listener{
		dial:    dial,
		channel: cfg.Channel,
		backoff: retry.NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, 2),
		clock:   clock,
		metrics: m,
		updates: make(chan domain.CounterUpdate, updatesBufferSize),
		done:    make(chan struct{}),
	}
}

// Updates is closed once the listener has stopped.
func (l *Listener) Updates() <-chan domain.CounterUpdate {
	return l.updates
}

// Connected reports whether the subscription is currently active.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Subscribed reports whether any subscription has succeeded since Start.
// It stays true across later reconnects.
func (l *Listener) Subscribed() bool {
	return l.subscribed.Load()
}

func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil || l.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(ctx)
}

// Stop cancels the subscription and waits for the loop to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	if cancel == nil {
		close(l.updates)
		return
	}
	cancel()
	<-l.done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.updates)

	for {
		err := l.listen(ctx)
		l.setConnected(false)
		if ctx.Err() != nil {
			slog.Info("Notification listener stopped", "channel", l.channel)
			return
		}

		delay := l.backoff.Next()
		l.metrics.Reconnects.Inc()
		slog.Warn("Notification subscription lost, reconnecting", "channel", l.channel, "backoff", delay, "error", err)

		select {
		case <-l.clock.After(delay):
		case <-ctx.Done():
			slog.Info("Notification listener stopped", "channel", l.channel)
			return
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), listenerCloseTimeout)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			slog.Debug("Failed to close listener connection", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	l.setConnected(true)
	l.backoff.Reset()
	slog.Info("Listening for counter notifications", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		if n.Channel != l.channel {
			continue
		}
		if !l.forward(ctx, n.Payload) {
			return ctx.Err()
		}
	}
}

// forward decodes one payload and blocks until it is queued. It returns
// false only when ctx is cancelled.
func (l *Listener) forward(ctx context.Context, payload string) bool {
	update, err := DecodeNotification(payload)
	if err != nil {
		l.metrics.Notifications.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed notification", "channel", l.channel, "payload", truncate(payload, maxLoggedPayload), "error", err)
		return true
	}

	select {
	case l.updates <- update:
		l.metrics.Notifications.WithLabelValues("ok").Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) setConnected(connected bool) {
	l.connected.Store(connected)
	if connected {
		l.subscribed.Store(true)
		l.metrics.Connected.Set(1)
	} else {
		l.metrics.Connected.Set(0)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
