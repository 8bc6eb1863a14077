package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/models"
)

// wsEnvelope is the wire shape of every WebSocket frame: a named event and
// its JSON payload, matching the SSE event/data pair.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSChannel is the legacy WebSocket variant of the live channel, functionally
// mirrored by the SSE path. It adds an application-level ping/pong heartbeat.
type WSChannel struct {
	cfg   Config
	log   *logrus.Entry
	demux *events.Demux

	handlers *events.Handlers
	cancel   context.CancelFunc

	connected      atomic.Bool
	closed         atomic.Bool
	streamComplete atomic.Bool
	acked          atomic.Bool

	mu       sync.Mutex
	conn     *websocket.Conn
	lastPong time.Time
}

func newWSChannel(cfg Config, log *logrus.Logger) *WSChannel {
	cfg = cfg.withDefaults()
	return &WSChannel{
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"component": "websocket", "path": cfg.Path}),
	}
}

// Connect dials the endpoint and starts the read and heartbeat loops.
func (w *WSChannel) Connect(ctx context.Context, handlers *events.Handlers) error {
	if w.connected.Load() {
		w.log.Warn("Connect called on an open channel, ignoring")
		return nil
	}

	w.handlers = handlers
	w.demux = events.NewDemux(handlers, w.log)

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	conn, err := w.dial(ctx)
	if err != nil {
		cancel()
		return err
	}

	w.setConn(conn)
	w.connected.Store(true)

	go w.watchAck(ctx)
	go w.heartbeat(ctx)
	go w.readLoop(ctx)

	return nil
}

// Disconnect closes the connection. Safe to call more than once.
func (w *WSChannel) Disconnect() {
	if w.closed.Swap(true) {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConn()
	w.connected.Store(false)
	w.log.Debug("Channel disconnected")
}

// Connected reports whether the connection is open.
func (w *WSChannel) Connected() bool {
	return w.connected.Load()
}

func (w *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	target := w.cfg.ResolveURL()
	if strings.HasPrefix(target, "https://") {
		target = "wss://" + strings.TrimPrefix(target, "https://")
	} else if strings.HasPrefix(target, "http://") {
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return conn, nil
}

func (w *WSChannel) readLoop(ctx context.Context) {
	for {
		conn := w.getConn()
		if conn == nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			if w.closed.Load() || w.streamComplete.Load() {
				return
			}
			if !w.acked.Load() {
				// Never acknowledged; watchAck classifies the failure.
				return
			}
			w.log.WithError(err).Warn("WebSocket read error, attempting to reconnect")
			w.reconnect(ctx)
			return
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			w.log.WithError(err).Warn("Failed to parse websocket frame")
			if w.handlers.OnError != nil {
				w.handlers.OnError(&models.StreamError{
					Code:    models.ErrCodeParseError,
					Message: fmt.Sprintf("malformed frame: %v", err),
				})
			}
			continue
		}

		if envelope.Event == events.EventPong {
			w.mu.Lock()
			w.lastPong = time.Now()
			w.mu.Unlock()
			continue
		}

		if events.IsAck(envelope.Event) {
			w.acked.Store(true)
		}
		if events.IsTerminal(envelope.Event) {
			w.streamComplete.Store(true)
		}
		w.demux.Dispatch(envelope.Event, envelope.Data)
	}
}

// heartbeat sends an application-level ping on a fixed interval and forces a
// reconnect when pongs stop arriving.
func (w *WSChannel) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	w.mu.Lock()
	w.lastPong = time.Now()
	w.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.closed.Load() || w.streamComplete.Load() {
				return
			}
			conn := w.getConn()
			if conn == nil {
				return
			}
			if err := conn.WriteJSON(wsEnvelope{Event: events.EventPing}); err != nil {
				w.log.WithError(err).Warn("Failed to send ping")
				continue
			}
			w.mu.Lock()
			stale := time.Since(w.lastPong) > 2*w.cfg.PingInterval
			w.mu.Unlock()
			if stale {
				w.log.Warn("No pong received, closing stale connection")
				conn.Close()
			}
		}
	}
}

func (w *WSChannel) watchAck(ctx context.Context) {
	timer := time.NewTimer(w.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if w.acked.Load() || w.closed.Load() || w.streamComplete.Load() {
		return
	}

	if !w.connected.Load() {
		w.closed.Store(true)
		w.log.Error("No acknowledgment before timeout and transport closed, token likely rejected")
		if w.handlers.OnError != nil {
			w.handlers.OnError(&models.StreamError{
				Code:    models.ErrCodeAuthFailed,
				Message: "connection closed before acknowledgment, re-authentication required",
			})
		}
		return
	}
	w.log.Warn("No acknowledgment received yet on open connection")
}

// reconnect retries the dial with bounded exponential backoff: five attempts,
// one second base delay, doubling, capped at ten seconds.
func (w *WSChannel) reconnect(ctx context.Context) {
	for attempt := 1; attempt <= w.cfg.MaxReconnectAttempts; attempt++ {
		if w.closed.Load() || w.streamComplete.Load() {
			return
		}

		delay := backoffDelay(attempt, w.cfg.ReconnectDelay, w.cfg.MaxReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		w.log.WithField("attempt", attempt).Info("Reconnecting websocket")
		conn, err := w.dial(ctx)
		if err != nil {
			w.log.WithError(err).WithField("attempt", attempt).Warn("Reconnect failed")
			continue
		}

		w.setConn(conn)
		w.connected.Store(true)
		w.log.Info("Websocket reconnected")
		w.readLoop(ctx)
		return
	}

	w.log.Error("Giving up on websocket after maximum reconnect attempts")
	if w.handlers.OnError != nil {
		w.handlers.OnError(&models.StreamError{
			Code:    models.ErrCodeConnectionError,
			Message: "connection lost and reconnect attempts exhausted",
		})
	}
}

func (w *WSChannel) setConn(conn *websocket.Conn) {
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
}

func (w *WSChannel) getConn() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *WSChannel) closeConn() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}
