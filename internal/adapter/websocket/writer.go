package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/countpulse/internal/adapter/metrics"
	"github.com/pscheid92/countpulse/internal/adapter/stream"
	"github.com/pscheid92/countpulse/internal/broadcast"
	"github.com/pscheid92/countpulse/internal/domain"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

// clientWriter owns all writes to one connection. The snapshot is written
// synchronously before start; afterwards only the run goroutine writes.
type clientWriter struct {
	connection *websocket.Conn
	sink       *broadcast.QueueSink
	clock      clockwork.Clock
	metrics    *metrics.StreamMetrics
	onExit     func()

	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// newClientWriter configures the pong handler; onExit runs when the writer
// gives up on the connection for any reason other than stop.
func newClientWriter(connection *websocket.Conn, sink *broadcast.QueueSink, clock clockwork.Clock, m *metrics.StreamMetrics, onExit func()) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		sink:        sink,
		clock:       clock,
		metrics:     m,
		onExit:      onExit,
		doneChannel: make(chan struct{}),
	}
	cw.configurePongHandler()
	return cw
}

func (cw *clientWriter) writeUpdate(update domain.CounterUpdate) error {
	data, err := stream.Encode(update)
	if err != nil {
		return err
	}

	cw.updateWriteDeadline()
	if err := cw.connection.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	cw.metrics.MessagesSent.WithLabelValues(string(domain.TransportPush)).Inc()
	return nil
}

func (cw *clientWriter) start() {
	cw.wg.Add(1)
	go cw.run()
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case update := <-cw.sink.Updates():
			if err := cw.writeUpdate(update); err != nil {
				slog.Debug("WebSocket write failed", "sink_id", cw.sink.ID().String(), "error", err)
				cw.onExit()
				return
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("WebSocket ping failed", "sink_id", cw.sink.ID().String(), "error", err)
				cw.onExit()
				return
			}
		case <-cw.sink.Done():
			// removed by the dispatcher or at shutdown
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
			cw.updateWriteDeadline()
			_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
			cw.onExit()
			return
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
	})
	cw.wg.Wait()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
