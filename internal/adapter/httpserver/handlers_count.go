package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/countpulse/internal/domain"
	apperrors "github.com/pscheid92/countpulse/internal/platform/errors"
	"github.com/pscheid92/countpulse/internal/platform/version"
)

func (s *Server) registerCountRoutes() {
	rateLimit := newRateLimiter(s.config.IncrementRateLimit, s.config.IncrementRateBurst)

	s.echo.GET("/api/v1/count", s.handleGetCount)
	s.echo.PATCH("/api/v1/count", s.handleIncrement, rateLimit)
}

func (s *Server) handleRoot(c echo.Context) error {
	response := map[string]string{
		"message": version.Name + " SSE and WS backend",
		"version": version.Version,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetCount(c echo.Context) error {
	count, err := s.counters.CurrentCount(c.Request().Context())
	if errors.Is(err, domain.ErrCounterNotFound) {
		return apperrors.NotFoundError("counter not found")
	}
	if err != nil {
		return apperrors.InternalError("failed to read counter", err)
	}

	if err := c.JSON(http.StatusOK, domain.CounterUpdate{Count: count}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleIncrement bumps the counter. Streaming clients see the new value
// through the database trigger, not from this handler.
func (s *Server) handleIncrement(c echo.Context) error {
	count, err := s.counters.Increment(c.Request().Context())
	if errors.Is(err, domain.ErrCounterNotFound) {
		return apperrors.InternalError("no counter row found to increment", err)
	}
	if err != nil {
		return apperrors.InternalError("failed to increment counter", err)
	}

	if err := c.JSON(http.StatusOK, domain.CounterUpdate{Count: count}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
