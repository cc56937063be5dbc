package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/platform/config"
)

type mockCounterService struct {
	currentCountFn func(ctx context.Context) (int64, error)
	incrementFn    func(ctx context.Context) (int64, error)
	increments     atomic.Int32
}

func (m *mockCounterService) CurrentCount(ctx context.Context) (int64, error) {
	if m.currentCountFn != nil {
		return m.currentCountFn(ctx)
	}
	return 0, errors.New("not implemented")
}

func (m *mockCounterService) Increment(ctx context.Context) (int64, error) {
	m.increments.Add(1)
	if m.incrementFn != nil {
		return m.incrementFn(ctx)
	}
	return 0, errors.New("not implemented")
}

type mockRealtime struct {
	connected  bool
	subscribed bool
}

func (m *mockRealtime) Connected() bool {
	return m.connected
}

func (m *mockRealtime) Subscribed() bool {
	return m.subscribed
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "development",
		Port:               "0",
		IncrementRateLimit: 1000,
		IncrementRateBurst: 1000,
		CORSAllowedOrigins: "*",
	}
}

type serverOption func(*serverFixture)

type serverFixture struct {
	cfg          *config.Config
	realtime     *mockRealtime
	streams      StreamHandlers
	healthChecks []HealthCheck
}

func withConfig(cfg *config.Config) serverOption {
	return func(f *serverFixture) { f.cfg = cfg }
}

func withRealtime(connected bool) serverOption {
	return func(f *serverFixture) { f.realtime.connected = connected }
}

func withoutSubscription() serverOption {
	return func(f *serverFixture) {
		f.realtime.connected = false
		f.realtime.subscribed = false
	}
}

func withHealthChecks(checks ...HealthCheck) serverOption {
	return func(f *serverFixture) { f.healthChecks = checks }
}

func withStreams(streams StreamHandlers) serverOption {
	return func(f *serverFixture) { f.streams = streams }
}

func newTestServer(t *testing.T, counters counterService, opts ...serverOption) *Server {
	t.Helper()

	placeholder := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	f := &serverFixture{
		cfg:      testConfig(),
		realtime: &mockRealtime{connected: true, subscribed: true},
		streams:  StreamHandlers{WebSocket: placeholder, SSE: placeholder, Metrics: placeholder},
	}
	for _, opt := range opts {
		opt(f)
	}

	return NewServer(f.cfg, counters, f.realtime, f.streams, metrics.NewHTTPMetrics(prometheus.NewRegistry()), f.healthChecks)
}
