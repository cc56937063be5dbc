package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/countpulse/internal/domain"
)

// DecodeNotification parses a trigger payload of the form {"count": N}.
// Anything that is not a JSON object with a non-negative integer count is
// reported as domain.ErrMalformedNotification.
func DecodeNotification(payload string) (domain.CounterUpdate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return domain.CounterUpdate{}, fmt.Errorf("%w: %w", domain.ErrMalformedNotification, err)
	}

	raw, ok := fields["count"]
	if !ok || string(raw) == "null" {
		return domain.CounterUpdate{}, fmt.Errorf("%w: missing count", domain.ErrMalformedNotification)
	}

	var count int64
	if err := json.Unmarshal(raw, &count); err != nil {
		return domain.CounterUpdate{}, fmt.Errorf("%w: count is not an integer", domain.ErrMalformedNotification)
	}
	if count < 0 {
		return domain.CounterUpdate{}, fmt.Errorf("%w: negative count %d", domain.ErrMalformedNotification, count)
	}

	return domain.CounterUpdate{Count: count}, nil
}
