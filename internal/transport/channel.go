package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/config"
)

// Mode selects the live-channel transport variant.
type Mode string

const (
	ModeSSE       Mode = "sse"
	ModeWebSocket Mode = "websocket"
)

// ErrUnauthorized is returned when the backend rejects the token outright
// during connection establishment.
var ErrUnauthorized = errors.New("transport: unauthorized")

// Channel is one live subscription to a single backend resource. Sync
// watchers depend only on this contract; the SSE and WebSocket variants are
// interchangeable.
type Channel interface {
	// Connect opens the transport and begins delivering events to the
	// handlers. Calling Connect on an open channel is a warned no-op.
	Connect(ctx context.Context, handlers *events.Handlers) error
	// Disconnect sets the intentional-close flag and closes the transport.
	// Idempotent; suppresses any further reconnection.
	Disconnect()
	// Connected reports whether the transport is currently open.
	Connected() bool
}

// Config holds the target and behavior of one channel.
type Config struct {
	BaseURL string
	Path    string
	Token   string
	Params  url.Values

	AckTimeout           time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = config.DefaultBaseURL
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// ResolveURL builds the target URL from the configured base origin, the
// resource path, and the query parameters. The token travels in the query
// because the streaming transports cannot attach custom headers.
func (c Config) ResolveURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = config.DefaultBaseURL
	}

	query := url.Values{}
	for key, vals := range c.Params {
		for _, v := range vals {
			query.Add(key, v)
		}
	}
	if c.Token != "" {
		query.Set("token", c.Token)
	}

	target := base + c.Path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

// backoffDelay computes the delay before reconnect attempt n (1-based):
// base doubling each attempt, capped.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Factory creates channels of the configured mode sharing one base config.
type Factory struct {
	mode Mode
	base Config
	log  *logrus.Logger
}

// NewFactory builds a channel factory from application configuration.
func NewFactory(cfg *config.Config, log *logrus.Logger) *Factory {
	return &Factory{
		mode: Mode(cfg.Stream.Mode),
		base: Config{
			BaseURL:              cfg.Backend.BaseURL,
			Token:                cfg.Backend.Token,
			AckTimeout:           cfg.Stream.AckTimeout,
			ReconnectDelay:       cfg.Stream.ReconnectDelay,
			MaxReconnectDelay:    cfg.Stream.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
			PingInterval:         cfg.Stream.PingInterval,
		},
		log: log,
	}
}

// Channel creates a live channel for one resource path.
func (f *Factory) Channel(path string, params url.Values) Channel {
	cfg := f.base
	cfg.Path = path
	cfg.Params = params
	return New(f.mode, cfg, f.log)
}

// New creates a channel of the given mode.
func New(mode Mode, cfg Config, log *logrus.Logger) Channel {
	if mode == ModeWebSocket {
		return newWSChannel(cfg, log)
	}
	return newSSEChannel(cfg, log)
}
