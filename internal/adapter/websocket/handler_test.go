package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/adapter/stream"
	"github.com/pscheid92/countpulse/internal/broadcast"
	"github.com/pscheid92/countpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	count int64
	err   error
}

func (s *stubStore) Read(context.Context) (int64, error) {
	return s.count, s.err
}

// racingStore dispatches an update while the snapshot read is in flight and
// returns only once that update has reached the client's sink.
type racingStore struct {
	count  int64
	update domain.CounterUpdate
	env    atomic.Pointer[testEnv]
}

func (s *racingStore) Read(context.Context) (int64, error) {
	env := s.env.Load()
	env.updates <- s.update

	delivered := env.fanout.Deliveries.WithLabelValues(string(domain.TransportPush), "ok")
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(delivered) < 1 {
		if time.Now().After(deadline) {
			return 0, errors.New("update was never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.count, nil
}

type testEnv struct {
	server   *httptest.Server
	registry *broadcast.Registry
	updates  chan domain.CounterUpdate
	fanout   *metrics.FanoutMetrics
}

func newTestEnv(t *testing.T, store stream.CounterReader, maxConnections int64, origins []string) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	fanout := metrics.NewFanoutMetrics(reg)
	registry := broadcast.NewRegistry(fanout)
	dispatcher := broadcast.NewDispatcher(registry, clockwork.NewRealClock(), fanout)
	updates := make(chan domain.CounterUpdate, 16)
	dispatcher.Start(updates)

	handler := NewHandler(registry, store, stream.NewConnectionLimiter(maxConnections), clockwork.NewRealClock(), HandlerConfig{
		BufferSize:     16,
		AllowedOrigins: origins,
	}, metrics.NewStreamMetrics(reg))

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		dispatcher.Stop()
		registry.CloseAll()
	})

	return &testEnv{server: server, registry: registry, updates: updates, fanout: fanout}
}

func (e *testEnv) url() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http")
}

func dial(t *testing.T, env *testEnv) *ws.Conn {
	t.Helper()
	conn, resp, err := ws.DefaultDialer.Dial(env.url(), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func waitForSinks(t *testing.T, registry *broadcast.Registry, expected int) {
	t.Helper()
	require.Eventually(t, func() bool { return registry.Len() == expected }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_SnapshotThenBroadcasts(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 5}, 10, []string{"*"})
	conn := dial(t, env)

	assert.Equal(t, `{"count":5}`, readMessage(t, conn))
	waitForSinks(t, env.registry, 1)

	env.updates <- domain.CounterUpdate{Count: 6}
	env.updates <- domain.CounterUpdate{Count: 7}

	assert.Equal(t, `{"count":6}`, readMessage(t, conn))
	assert.Equal(t, `{"count":7}`, readMessage(t, conn))
}

func TestHandler_UpdateDuringSnapshotReadFollowsSnapshot(t *testing.T) {
	store := &racingStore{count: 5, update: domain.CounterUpdate{Count: 6}}
	env := newTestEnv(t, store, 10, []string{"*"})
	store.env.Store(env)

	conn := dial(t, env)

	assert.Equal(t, `{"count":5}`, readMessage(t, conn))
	assert.Equal(t, `{"count":6}`, readMessage(t, conn))
}

func TestHandler_InboundPayloadIgnored(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 1}, 10, []string{"*"})
	conn := dial(t, env)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"count":999}`)))
	env.updates <- domain.CounterUpdate{Count: 2}

	assert.Equal(t, `{"count":2}`, readMessage(t, conn))
}

func TestHandler_StoreUnavailableSendsZero(t *testing.T) {
	env := newTestEnv(t, &stubStore{err: errors.New("connection refused")}, 10, []string{"*"})
	conn := dial(t, env)

	assert.Equal(t, `{"count":0}`, readMessage(t, conn))
}

func TestHandler_MissingCounterSendsZero(t *testing.T) {
	env := newTestEnv(t, &stubStore{err: domain.ErrCounterNotFound}, 10, []string{"*"})
	conn := dial(t, env)

	assert.Equal(t, `{"count":0}`, readMessage(t, conn))
}

func TestHandler_DisconnectRemovesSink(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 1}, 10, []string{"*"})
	conn := dial(t, env)
	readMessage(t, conn)
	waitForSinks(t, env.registry, 1)

	require.NoError(t, conn.Close())

	waitForSinks(t, env.registry, 0)
}

func TestHandler_ConnectionLimit(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 1}, 1, []string{"*"})
	first := dial(t, env)
	readMessage(t, first)

	_, resp, err := ws.DefaultDialer.Dial(env.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, first.Close())

	// the slot is released once the first handler has fully returned
	var second *ws.Conn
	require.Eventually(t, func() bool {
		conn, resp, err := ws.DefaultDialer.Dial(env.url(), nil)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return false
		}
		second = conn
		return true
	}, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = second.Close() })
	assert.Equal(t, `{"count":1}`, readMessage(t, second))
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 1}, 10, []string{"https://counter.example.com"})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := ws.DefaultDialer.Dial(env.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.registry.Len())
}

func TestHandler_ClosedSinkSendsCloseFrame(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 1}, 10, []string{"*"})
	conn := dial(t, env)
	readMessage(t, conn)
	waitForSinks(t, env.registry, 1)

	env.registry.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseGoingAway), "unexpected error: %v", err)
}

func TestHandler_EachClientGetsEveryUpdateInOrder(t *testing.T) {
	env := newTestEnv(t, &stubStore{count: 0}, 10, []string{"*"})
	clients := []*ws.Conn{dial(t, env), dial(t, env), dial(t, env)}
	for _, c := range clients {
		readMessage(t, c)
	}
	waitForSinks(t, env.registry, 3)

	for i := int64(1); i <= 5; i++ {
		env.updates <- domain.CounterUpdate{Count: i}
	}

	for _, c := range clients {
		for _, want := range []string{`{"count":1}`, `{"count":2}`, `{"count":3}`, `{"count":4}`, `{"count":5}`} {
			assert.Equal(t, want, readMessage(t, c))
		}
	}
}
