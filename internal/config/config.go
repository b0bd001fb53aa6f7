package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full relay configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	Journal   JournalConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration // request header read timeout
	WriteTimeout      time.Duration // API response timeout; WebSocket traffic is exempt
	TrustProxyHeaders bool
}

type WebSocketConfig struct {
	OutboundQueue  int
	OverflowPolicy string
	WriteTimeout   time.Duration
	ReadLimit      int64
	PingInterval   time.Duration // zero disables keepalive pings
}

type RateLimitConfig struct {
	Rate          float64
	Burst         int
	MaxBuckets    int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type JournalConfig struct {
	Path      string // empty disables the journal
	Retention time.Duration
	QueueSize int
}

type MetricsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns the defaults: port 8787, 8 frames/s with a burst
// of 16 per client address, and a 256-frame drop-oldest outbound queue.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8787,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			OutboundQueue:  256,
			OverflowPolicy: "drop_oldest",
			WriteTimeout:   10 * time.Second,
			ReadLimit:      1 << 20,
		},
		RateLimit: RateLimitConfig{
			Rate:          8,
			Burst:         16,
			MaxBuckets:    65536,
			IdleTTL:       10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Journal: JournalConfig{
			Retention: 24 * time.Hour,
			QueueSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server port must be between 0 and 65535")
	}
	if c.Server.ReadTimeout <= 0 {
		return invalid("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return invalid("server write timeout must be positive")
	}

	if c.WebSocket.OutboundQueue <= 0 {
		return invalid("websocket outbound queue must be positive")
	}
	switch c.WebSocket.OverflowPolicy {
	case "drop_oldest", "disconnect":
	default:
		return invalid("websocket overflow policy %q must be drop_oldest or disconnect", c.WebSocket.OverflowPolicy)
	}
	if c.WebSocket.WriteTimeout < 0 {
		return invalid("websocket write timeout cannot be negative")
	}
	if c.WebSocket.ReadLimit <= 0 {
		return invalid("websocket read limit must be positive")
	}
	if c.WebSocket.PingInterval < 0 {
		return invalid("websocket ping interval cannot be negative")
	}

	if c.RateLimit.Rate <= 0 {
		return invalid("rate limit rate must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return invalid("rate limit burst must be positive")
	}
	if c.RateLimit.MaxBuckets <= 0 {
		return invalid("rate limit max buckets must be positive")
	}
	if c.RateLimit.IdleTTL <= 0 {
		return invalid("rate limit idle ttl must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return invalid("rate limit sweep interval must be positive")
	}

	if c.Journal.Path != "" {
		if c.Journal.Retention <= 0 {
			return invalid("journal retention must be positive")
		}
		if c.Journal.QueueSize <= 0 {
			return invalid("journal queue size must be positive")
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return invalid("log level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log format %q must be text or json", c.Log.Format)
	}

	return nil
}

// ApplyEnv overrides cfg from the environment. PORT is honored for
// platforms that inject it; RELAY_PORT takes precedence over it.
func ApplyEnv(cfg *Config) error {
	var errs []error
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	setInt("PORT", &cfg.Server.Port)
	setInt("RELAY_PORT", &cfg.Server.Port)
	if v := os.Getenv("RELAY_HOST"); v != "" {
		cfg.Server.Host = v
	}

	setInt("RELAY_OUTBOUND_QUEUE", &cfg.WebSocket.OutboundQueue)
	if v := os.Getenv("RELAY_OVERFLOW_POLICY"); v != "" {
		cfg.WebSocket.OverflowPolicy = v
	}

	if v := os.Getenv("RELAY_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RELAY_RATE: %w", err))
		} else {
			cfg.RateLimit.Rate = rate
		}
	}
	setInt("RELAY_BURST", &cfg.RateLimit.Burst)

	if v, ok := os.LookupEnv("RELAY_JOURNAL_PATH"); ok {
		cfg.Journal.Path = v
	}

	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	if v := os.Getenv("RELAY_METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RELAY_METRICS_ENABLED: %w", err))
		} else {
			cfg.Metrics.Enabled = enabled
		}
	}

	return errors.Join(errs...)
}

// Load builds the configuration: defaults, then environment, then the
// file at path (or RELAY_CONFIG_FILE when path is empty). The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if path == "" {
		path = os.Getenv("RELAY_CONFIG_FILE")
	}
	if path != "" {
		if err := ApplyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
