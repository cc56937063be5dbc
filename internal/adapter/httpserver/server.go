package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/platform/config"
)

const readHeaderTimeout = 10 * time.Second

type counterService interface {
	CurrentCount(ctx context.Context) (int64, error)
	Increment(ctx context.Context) (int64, error)
}

// realtimeStatus reports on the notification listener: Connected is the
// current state, Subscribed whether it has ever subscribed.
type realtimeStatus interface {
	Connected() bool
	Subscribed() bool
}

// StreamHandlers are the long-lived endpoints mounted next to the API.
type StreamHandlers struct {
	WebSocket http.Handler
	SSE       http.Handler
	Metrics   http.Handler
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	counters    counterService
	realtime    realtimeStatus
	streams     StreamHandlers
	httpMetrics *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, counters counterService, realtime realtimeStatus, streams StreamHandlers, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	srv := &Server{
		echo:         e,
		config:       cfg,
		counters:     counters,
		realtime:     realtime,
		streams:      streams,
		httpMetrics:  httpMetrics,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets the server be mounted directly, e.g. in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
