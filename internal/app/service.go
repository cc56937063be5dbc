package app

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pscheid92/countpulse/internal/domain"
	"golang.org/x/sync/singleflight"
)

// sharedReadTimeout bounds a coalesced read, which no longer follows any
// single caller's context.
const sharedReadTimeout = 5 * time.Second

// Service is the application layer over the counter store.
// It never broadcasts: streaming clients learn about increments only through
// the database notification path.
type Service struct {
	counters  domain.CounterStore
	readGroup singleflight.Group
	// writes counts completed increments. Reads are coalesced per value so a
	// read issued after an increment returned never joins an older query.
	writes atomic.Uint64
}

func NewService(counters domain.CounterStore) *Service {
	return &Service{counters: counters}
}

// CurrentCount reads the counter. Concurrent reads share one query; a caller
// that gives up only abandons its own wait.
func (s *Service) CurrentCount(ctx context.Context) (int64, error) {
	key := strconv.FormatUint(s.writes.Load(), 10)
	shared := context.WithoutCancel(ctx)

	ch := s.readGroup.DoChan(key, func() (any, error) {
		readCtx, cancel := context.WithTimeout(shared, sharedReadTimeout)
		defer cancel()
		return s.counters.Read(readCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Increment adds one to the counter and returns the new value.
func (s *Service) Increment(ctx context.Context) (int64, error) {
	count, err := s.counters.Increment(ctx)
	if err != nil {
		return 0, err
	}
	s.writes.Add(1)
	return count, nil
}
