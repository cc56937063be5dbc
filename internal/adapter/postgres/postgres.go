package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Connect opens the pool used by the counter store. A nil tracer disables query tracing.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if tracer != nil {
		poolCfg.ConnConfig.Tracer = tracer
	}

	slog.Info("Database SSL mode", "sslmode", extractSSLMode(databaseURL))

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected", "min_conns", poolCfg.MinConns, "max_conns", poolCfg.MaxConns)
	return pool, nil
}

func extractSSLMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "" {
		return "prefer (default)"
	}
	return mode
}

const (
	// migrationLockID is a PostgreSQL advisory lock ID for coordinating migrations.
	// Value: 0x636f756e7470 ("countp" in ASCII hex)
	migrationLockID             = 0x636f756e7470
	migrationLockReleaseTimeout = 5 * time.Second
)

// RunMigrationsWithLock creates the counters table, seeds its single row and
// installs the trigger that notifies notifyChannel on every change. A trigger
// left over from a run with another channel is re-created.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool, notifyChannel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	cancel, err := migrationLock(ctx, conn.Conn(), migrationLockReleaseTimeout)
	if err != nil {
		return err
	}
	defer cancel()

	slog.Info("running database migrations")
	if err := runMigrations(ctx, conn.Conn(), notifyChannel); err != nil {
		return err
	}

	if _, err := EnsureNotifyTrigger(ctx, conn.Conn(), notifyChannel); err != nil {
		return err
	}
	return nil
}

func runMigrations(ctx context.Context, conn *pgx.Conn, notifyChannel string) error {
	migrationFS, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, "public.schema_version")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	migrator.Data = map[string]any{"notify_channel": notifyChannel}

	if err := migrator.LoadMigrations(migrationFS); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	currentVersion, err := migrator.GetCurrentVersion(ctx)
	if err != nil {
		slog.Debug("could not get current DB version (likely fresh DB)", "error", err)
	} else {
		slog.Info("current DB version", "version", currentVersion)
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

func migrationLock(ctx context.Context, conn *pgx.Conn, releaseTimeout time.Duration) (cancel func(), err error) {
	cancel = func() { /* EMPTY */ }

	if _, err = conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		err = fmt.Errorf("failed to acquire migration lock: %w", err)
		return
	}

	cancel = func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			slog.Error("failed to release migration lock", "error", err)
		}
	}
	return
}

const notifyTriggerChannelQuery = `
SELECT convert_from(substring(tgargs FROM 1 FOR position('\x00'::bytea IN tgargs) - 1), 'UTF8')
FROM pg_trigger
WHERE tgname = 'counters_notify' AND tgrelid = 'counters'::regclass`

type triggerConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NotifyTriggerChannel returns the channel the counters trigger notifies, or
// "" when no trigger is installed.
func NotifyTriggerChannel(ctx context.Context, db triggerConn) (string, error) {
	var channel string
	err := db.QueryRow(ctx, notifyTriggerChannelQuery).Scan(&channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to inspect notify trigger: %w", err)
	}
	return channel, nil
}

// EnsureNotifyTrigger points the counters trigger at notifyChannel,
// re-creating it when it notifies any other channel. It reports whether the
// trigger changed.
func EnsureNotifyTrigger(ctx context.Context, db triggerConn, notifyChannel string) (bool, error) {
	installed, err := NotifyTriggerChannel(ctx, db)
	if err != nil {
		return false, err
	}
	if installed == notifyChannel {
		return false, nil
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin trigger update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TRIGGER IF EXISTS counters_notify ON counters"); err != nil {
		return false, fmt.Errorf("failed to drop notify trigger: %w", err)
	}
	create := fmt.Sprintf(`CREATE TRIGGER counters_notify
    AFTER INSERT OR UPDATE OF count ON counters
    FOR EACH ROW
    EXECUTE FUNCTION notify_counter_change('%s')`, strings.ReplaceAll(notifyChannel, "'", "''"))
	if _, err := tx.Exec(ctx, create); err != nil {
		return false, fmt.Errorf("failed to create notify trigger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit trigger update: %w", err)
	}

	slog.Info("Notify trigger re-created", "previous_channel", installed, "channel", notifyChannel)
	return true, nil
}
