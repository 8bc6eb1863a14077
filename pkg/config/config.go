package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// DefaultBaseURL is used when no backend origin is configured.
const DefaultBaseURL = "http://localhost:8000"

// Config represents the full application configuration.
type Config struct {
	Backend  BackendConfig  `env:", prefix=BACKEND_"`
	Stream   StreamConfig   `env:", prefix=STREAM_"`
	Poll     PollConfig     `env:", prefix=POLL_"`
	Bridge   BridgeConfig   `env:", prefix=BRIDGE_"`
	Redis    RedisConfig    `env:", prefix=REDIS_"`
	NATS     NATSConfig     `env:", prefix=NATS_"`
	InfluxDB InfluxConfig   `env:", prefix=INFLUXDB_"`
	Logging  LoggingConfig  `env:", prefix=LOG_"`
	Identity IdentityConfig `env:", prefix=IDENTITY_"`
}

// BackendConfig holds the remote backend endpoints and auth token.
type BackendConfig struct {
	BaseURL string        `env:"BASE_URL"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT, default=30s"`
}

// StreamConfig holds live-channel behavior shared by the SSE and WebSocket
// transports.
type StreamConfig struct {
	Mode                 string        `env:"MODE, default=sse"` // sse or websocket
	AckTimeout           time.Duration `env:"ACK_TIMEOUT, default=5s"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY, default=1s"`
	MaxReconnectDelay    time.Duration `env:"MAX_RECONNECT_DELAY, default=10s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS, default=5"`
	PingInterval         time.Duration `env:"PING_INTERVAL, default=30s"`
	ChunkSize            int           `env:"CHUNK_SIZE, default=500"`
}

// PollConfig holds the REST-polling fallback used while a job is still
// running and multi-interval live streaming is unavailable server-side.
type PollConfig struct {
	Interval time.Duration `env:"INTERVAL, default=3s"`
	Limit    int           `env:"LIMIT, default=5000"`
}

// BridgeConfig holds the local bridge daemon settings.
type BridgeConfig struct {
	Host         string        `env:"HOST, default=127.0.0.1"`
	Port         int           `env:"PORT, default=8090"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=true"`
	CORSOrigins  []string      `env:"CORS_ORIGINS, default=*"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	PingInterval time.Duration `env:"PING_INTERVAL, default=30s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT, default=60s"`
}

// RedisConfig holds the optional snapshot store settings.
type RedisConfig struct {
	Enabled      bool          `env:"ENABLED, default=false"`
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_TTL, default=24h"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds the optional event fanout settings.
type NATSConfig struct {
	Enabled       bool          `env:"ENABLED, default=false"`
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	SubjectPrefix string        `env:"SUBJECT_PREFIX, default=sync"`
}

// InfluxConfig holds the optional bar sink settings.
type InfluxConfig struct {
	Enabled bool          `env:"ENABLED, default=false"`
	URL     string        `env:"URL, default=http://localhost:8086"`
	Token   string        `env:"TOKEN"`
	Org     string        `env:"ORG, default=trading-org"`
	Bucket  string        `env:"BUCKET, default=bars"`
	Timeout time.Duration `env:"TIMEOUT, default=10s"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=text"`
	Output string `env:"OUTPUT, default=stderr"`
}

// IdentityConfig holds device-identity settings.
type IdentityConfig struct {
	Path string `env:"PATH"` // defaults to ~/.dash-sync/device_id
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = DefaultBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}
	if c.Stream.Mode != "sse" && c.Stream.Mode != "websocket" {
		return fmt.Errorf("invalid stream mode: %s", c.Stream.Mode)
	}
	if c.Stream.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("invalid bridge port: %d", c.Bridge.Port)
	}
	return nil
}

// GetRedisAddr returns the Redis address.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetBridgeAddr returns the bridge listen address.
func (c *Config) GetBridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
}
