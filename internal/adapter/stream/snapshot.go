package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/countpulse/internal/domain"
)

const snapshotTimeout = 5 * time.Second

// CounterReader is the read half of domain.CounterStore.
type CounterReader interface {
	Read(ctx context.Context) (int64, error)
}

// InitialCount reads the value sent to a client right after its sink is
// registered. A missing counter or an unavailable store yields 0.
func InitialCount(ctx context.Context, store CounterReader) domain.CounterUpdate {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	count, err := store.Read(ctx)
	switch {
	case err == nil:
		return domain.CounterUpdate{Count: count}
	case errors.Is(err, domain.ErrCounterNotFound):
		slog.DebugContext(ctx, "No counter row, sending zero snapshot")
	default:
		slog.WarnContext(ctx, "Failed to read counter snapshot, sending zero", "error", err)
	}
	return domain.CounterUpdate{Count: 0}
}

// Encode renders an update as the {"count":N} message both transports send.
func Encode(update domain.CounterUpdate) ([]byte, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("failed to encode counter update: %w", err)
	}
	return data, nil
}
