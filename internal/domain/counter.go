package domain

import "context"

// CounterUpdate is one observed counter value on its way from the
// notification bridge to connected clients.
type CounterUpdate struct {
	Count int64 `json:"count"`
}

// CounterStore reads and increments the single shared counter.
type CounterStore interface {
	// Read returns ErrCounterNotFound when no counter row exists.
	Read(ctx context.Context) (int64, error)
	// Increment atomically adds one and returns the new value.
	Increment(ctx context.Context) (int64, error)
}
