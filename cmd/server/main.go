package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/countpulse/internal/adapter/httpserver"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/adapter/postgres"
	"github.com/pscheid92/countpulse/internal/adapter/sse"
	"github.com/pscheid92/countpulse/internal/adapter/stream"
	"github.com/pscheid92/countpulse/internal/adapter/websocket"
	"github.com/pscheid92/countpulse/internal/app"
	"github.com/pscheid92/countpulse/internal/broadcast"
	"github.com/pscheid92/countpulse/internal/platform/config"
	"github.com/pscheid92/countpulse/internal/platform/logging"
	"github.com/pscheid92/countpulse/internal/platform/retry"
	"github.com/pscheid92/countpulse/internal/platform/version"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func runGracefulShutdown(runtime *app.Runtime) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, reg prometheus.Registerer) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	tracer := postgres.NewMetricsTracer(metrics.NewDBMetrics(reg))
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL(), tracer)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if !cfg.RunMigrations {
		slog.Info("Skipping migrations")
		warnOnTriggerMismatch(ctx, pool, cfg.NotifyChannel)
		return pool
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool, cfg.NotifyChannel); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// warnOnTriggerMismatch flags a trigger that notifies a channel nobody listens on.
func warnOnTriggerMismatch(ctx context.Context, pool *pgxpool.Pool, channel string) {
	installed, err := postgres.NotifyTriggerChannel(ctx, pool)
	if err != nil {
		slog.Warn("Could not inspect notify trigger", "error", err)
		return
	}
	if installed != channel {
		slog.Warn("Notify trigger does not match NOTIFY_CHANNEL; realtime updates will not arrive until migrations run",
			"trigger_channel", installed, "channel", channel)
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	fanoutMetrics := metrics.NewFanoutMetrics(reg)
	streamMetrics := metrics.NewStreamMetrics(reg)

	pool := setupDB(cfg, reg)

	counterRepo := postgres.NewCounterRepo(pool, retry.Policy{
		MaxAttempts:    cfg.IncrementMaxAttempts,
		InitialBackoff: cfg.IncrementRetryDelay,
		Multiplier:     1,
		Clock:          clock,
	}, metrics.NewCounterMetrics(reg))
	appSvc := app.NewService(counterRepo)

	registry := broadcast.NewRegistry(fanoutMetrics)
	dispatcher := broadcast.NewDispatcher(registry, clock, fanoutMetrics)
	listener := postgres.NewListener(postgres.Dialer(cfg.DatabaseURL()), postgres.ListenerConfig{
		Channel:        cfg.NotifyChannel,
		InitialBackoff: cfg.ListenerInitialBackoff,
		MaxBackoff:     cfg.ListenerMaxBackoff,
	}, clock, metrics.NewListenerMetrics(reg))

	limiter := stream.NewConnectionLimiter(int64(cfg.MaxStreamConnections))
	websocketHandler := websocket.NewHandler(registry, counterRepo, limiter, clock, websocket.HandlerConfig{
		BufferSize:     cfg.SinkBufferSize,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDevelopment:  !cfg.IsProduction(),
	}, streamMetrics)
	sseHandler := sse.NewHandler(registry, counterRepo, limiter, clock, cfg.SinkBufferSize, streamMetrics)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}
	srv := httpserver.NewServer(cfg, appSvc, listener, httpserver.StreamHandlers{
		WebSocket: websocketHandler,
		SSE:       sseHandler,
		Metrics:   metrics.Handler(reg),
	}, metrics.NewHTTPMetrics(reg), healthChecks)

	runtime := app.NewRuntime(srv, listener, dispatcher, registry, pool)
	runtime.Start(context.Background())

	done := runGracefulShutdown(runtime)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
