package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/models"
)

// SSEChannel subscribes to one backend resource over a long-lived HTTP
// response carrying text/event-stream frames.
type SSEChannel struct {
	cfg   Config
	log   *logrus.Entry
	demux *events.Demux

	handlers *events.Handlers
	cancel   context.CancelFunc

	// Connection state. closed is the intentional-close flag;
	// streamComplete, once set by a terminal event, suppresses all further
	// reconnection.
	connected      atomic.Bool
	closed         atomic.Bool
	streamComplete atomic.Bool
	acked          atomic.Bool

	mu   sync.Mutex
	resp *http.Response
}

func newSSEChannel(cfg Config, log *logrus.Logger) *SSEChannel {
	cfg = cfg.withDefaults()
	return &SSEChannel{
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"component": "sse", "path": cfg.Path}),
	}
}

// Connect opens the stream and starts the read loop.
func (s *SSEChannel) Connect(ctx context.Context, handlers *events.Handlers) error {
	if s.connected.Load() {
		s.log.Warn("Connect called on an open channel, ignoring")
		return nil
	}

	s.handlers = handlers
	s.demux = events.NewDemux(handlers, s.log)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	resp, err := s.open(ctx)
	if err != nil {
		cancel()
		return err
	}

	s.setResp(resp)
	s.connected.Store(true)

	go s.watchAck(ctx)
	go s.readLoop(ctx, resp)

	return nil
}

// Disconnect closes the stream. Safe to call more than once.
func (s *SSEChannel) Disconnect() {
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.closeResp()
	s.connected.Store(false)
	s.log.Debug("Channel disconnected")
}

// Connected reports whether the stream is open.
func (s *SSEChannel) Connected() bool {
	return s.connected.Load()
}

func (s *SSEChannel) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ResolveURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := &http.Client{
		Timeout: 0, // long-lived stream
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     0,
			DisableCompression:  true,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// readLoop parses event-stream frames until the body ends, then decides
// between reconnecting and staying down.
func (s *SSEChannel) readLoop(ctx context.Context, resp *http.Response) {
	defer func() {
		s.connected.Store(false)
		resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventName := "message"
	var data bytes.Buffer

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				s.dispatch(eventName, data.Bytes())
			}
			eventName = "message"
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if data.Len() > 0 {
		s.dispatch(eventName, data.Bytes())
	}

	if err := scanner.Err(); err != nil && !s.closed.Load() {
		s.log.WithError(err).Warn("Stream read error")
	}

	// streamComplete is checked before any reconnect-related logging or
	// state change: a finished stream must stay down.
	if s.closed.Load() || s.streamComplete.Load() {
		return
	}
	if !s.acked.Load() {
		// Never acknowledged; watchAck classifies this as an auth failure.
		return
	}

	s.log.Warn("Stream ended, attempting to reconnect")
	s.reconnect(ctx)
}

func (s *SSEChannel) dispatch(event string, data []byte) {
	if events.IsAck(event) {
		s.acked.Store(true)
	}
	if events.IsTerminal(event) {
		s.streamComplete.Store(true)
	}
	s.demux.Dispatch(event, data)
}

// watchAck classifies a connection that never received a connection or
// snapshot acknowledgment within the ack timeout and is found closed as an
// authentication failure, mirroring an unauthorized response.
func (s *SSEChannel) watchAck(ctx context.Context) {
	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if s.acked.Load() || s.closed.Load() || s.streamComplete.Load() {
		return
	}

	if !s.connected.Load() {
		s.closed.Store(true)
		s.log.Error("No acknowledgment before timeout and transport closed, token likely rejected")
		if s.handlers.OnError != nil {
			s.handlers.OnError(&models.StreamError{
				Code:    models.ErrCodeAuthFailed,
				Message: "connection closed before acknowledgment, re-authentication required",
			})
		}
		return
	}
	s.log.Warn("No acknowledgment received yet on open stream")
}

// reconnect retries the stream with bounded exponential backoff. Transport
// errors without a structured error payload are transient, so retrying is
// the default unless a terminal event was observed.
func (s *SSEChannel) reconnect(ctx context.Context) {
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		if s.closed.Load() || s.streamComplete.Load() {
			return
		}

		delay := backoffDelay(attempt, s.cfg.ReconnectDelay, s.cfg.MaxReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.log.WithField("attempt", attempt).Info("Reconnecting to stream")
		resp, err := s.open(ctx)
		if err != nil {
			s.log.WithError(err).WithField("attempt", attempt).Warn("Reconnect failed")
			continue
		}

		s.setResp(resp)
		s.connected.Store(true)
		s.log.Info("Reconnected to stream")
		s.readLoop(ctx, resp)
		return
	}

	s.log.Error("Giving up on stream after maximum reconnect attempts")
	if s.handlers.OnError != nil {
		s.handlers.OnError(&models.StreamError{
			Code:    models.ErrCodeConnectionError,
			Message: "connection lost and reconnect attempts exhausted",
		})
	}
}

func (s *SSEChannel) setResp(resp *http.Response) {
	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()
}

func (s *SSEChannel) closeResp() {
	s.mu.Lock()
	if s.resp != nil {
		s.resp.Body.Close()
		s.resp = nil
	}
	s.mu.Unlock()
}
