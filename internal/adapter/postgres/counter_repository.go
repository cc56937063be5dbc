package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/domain"
	"github.com/pscheid92/countpulse/internal/platform/retry"
)

const (
	readCounterSQL      = `SELECT count FROM counters LIMIT 1`
	incrementCounterSQL = `UPDATE counters SET count = count + 1 RETURNING count`

	undefinedTableCode = "42P01"
)

// rowQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type CounterRepo struct {
	db      rowQuerier
	policy  retry.Policy
	metrics *metrics.CounterMetrics
}

var _ domain.CounterStore = (*CounterRepo)(nil)

// NewCounterRepo builds the store. Increments use policy for transient
// failures; a Multiplier of zero keeps the delay between attempts fixed.
func NewCounterRepo(db rowQuerier, policy retry.Policy, m *metrics.CounterMetrics) *CounterRepo {
	r := &CounterRepo{db: db, metrics: m}

	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.IncrementRetry.Inc()
		slog.Warn("Counter increment failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}
	r.policy = policy

	return r
}

func (r *CounterRepo) Read(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, readCounterSQL).Scan(&count)
	if isCounterMissing(err) {
		return 0, domain.ErrCounterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

// Increment never broadcasts; connected clients learn about the new value
// through the notification trigger.
func (r *CounterRepo) Increment(ctx context.Context) (int64, error) {
	count, err := retry.Do(ctx, r.policy, classifyIncrementError, func() (int64, error) {
		var count int64
		err := r.db.QueryRow(ctx, incrementCounterSQL).Scan(&count)
		if isCounterMissing(err) {
			return 0, domain.ErrCounterNotFound
		}
		return count, err
	})

	switch {
	case err == nil:
		r.metrics.Increments.WithLabelValues("ok").Inc()
		return count, nil
	case errors.Is(err, domain.ErrCounterNotFound):
		r.metrics.Increments.WithLabelValues("not_found").Inc()
		return 0, domain.ErrCounterNotFound
	default:
		r.metrics.Increments.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
}

func isCounterMissing(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}

// classifyIncrementError stops on errors another attempt cannot fix: a
// missing counter, cancellation, and data, integrity or syntax errors
// (SQLSTATE classes 22, 23 and 42). Serialization failures, deadlocks,
// lock timeouts and connection errors are retried.
func classifyIncrementError(err error) retry.Action {
	if errors.Is(err, domain.ErrCounterNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return retry.Stop
		}
	}
	return retry.Retry
}
