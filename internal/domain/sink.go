package domain

import "github.com/google/uuid"

// Transport identifies which stream adapter owns a sink.
type Transport string

const (
	TransportPush Transport = "websocket"
	TransportPull Transport = "sse"
)

// Sink is one connected streaming client as seen by the fan-out engine.
type Sink interface {
	ID() uuid.UUID
	Transport() Transport
	// Deliver hands an update to the client without blocking. It returns
	// false when the sink is closed or cannot keep up.
	Deliver(update CounterUpdate) bool
	// Close is idempotent.
	Close()
}
