package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/countpulse/internal/domain"
)

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type notificationSource interface {
	Start(ctx context.Context)
	Stop()
	Updates() <-chan domain.CounterUpdate
}

type updateConsumer interface {
	Start(updates <-chan domain.CounterUpdate)
	Stop()
}

type sinkSet interface {
	CloseAll() int
}

type closer interface {
	Close()
}

// Runtime holds the long-running components built in main.
type Runtime struct {
	server     httpServer
	listener   notificationSource
	dispatcher updateConsumer
	registry   sinkSet
	pool       closer
}

func NewRuntime(server httpServer, listener notificationSource, dispatcher updateConsumer, registry sinkSet, pool closer) *Runtime {
	return &Runtime{
		server:     server,
		listener:   listener,
		dispatcher: dispatcher,
		registry:   registry,
		pool:       pool,
	}
}

// Start connects the listener to the dispatcher. The HTTP server is started
// separately by the caller.
func (r *Runtime) Start(ctx context.Context) {
	r.listener.Start(ctx)
	r.dispatcher.Start(r.listener.Updates())
}

// Shutdown stops accepting HTTP connections, then stops the listener, the
// dispatcher, closes every sink and finally the database pool.
//
// Open streams only end once their sinks are closed, so the server shutdown
// is awaited after CloseAll.
func (r *Runtime) Shutdown(ctx context.Context) error {
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- r.server.Shutdown(ctx)
	}()

	r.listener.Stop()
	r.dispatcher.Stop()

	closed := r.registry.CloseAll()
	slog.Info("Closed streaming clients", "count", closed)

	var errs []error
	if err := <-serverDone; err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
	}

	r.pool.Close()
	slog.Info("Database pool closed")

	return errors.Join(errs...)
}
