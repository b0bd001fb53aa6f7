package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// File mirrors the TOML layout. Durations are strings parsed with
// time.ParseDuration; only keys present in the file override cfg.
type File struct {
	Server    serverFile    `toml:"server"`
	WebSocket webSocketFile `toml:"websocket"`
	RateLimit rateLimitFile `toml:"rate_limit"`
	Journal   journalFile   `toml:"journal"`
	Metrics   metricsFile   `toml:"metrics"`
	Log       logFile       `toml:"log"`
}

type serverFile struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	ReadTimeout       string `toml:"read_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	TrustProxyHeaders bool   `toml:"trust_proxy_headers"`
}

type webSocketFile struct {
	OutboundQueue  int    `toml:"outbound_queue"`
	OverflowPolicy string `toml:"overflow_policy"`
	WriteTimeout   string `toml:"write_timeout"`
	ReadLimit      int64  `toml:"read_limit"`
	PingInterval   string `toml:"ping_interval"`
}

type rateLimitFile struct {
	Rate          float64 `toml:"rate"`
	Burst         int     `toml:"burst"`
	MaxBuckets    int     `toml:"max_buckets"`
	IdleTTL       string  `toml:"idle_ttl"`
	SweepInterval string  `toml:"sweep_interval"`
}

type journalFile struct {
	Path      string `toml:"path"`
	Retention string `toml:"retention"`
	QueueSize int    `toml:"queue_size"`
}

type metricsFile struct {
	Enabled bool `toml:"enabled"`
}

type logFile struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ApplyFile overlays the TOML file at path onto cfg. Unknown keys and
// unparsable durations are errors.
func ApplyFile(cfg *Config, path string) error {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}

	o := overlay{md: md}

	o.setString(&cfg.Server.Host, f.Server.Host, "server", "host")
	o.setInt(&cfg.Server.Port, f.Server.Port, "server", "port")
	o.setDuration(&cfg.Server.ReadTimeout, f.Server.ReadTimeout, "server", "read_timeout")
	o.setDuration(&cfg.Server.WriteTimeout, f.Server.WriteTimeout, "server", "write_timeout")
	o.setBool(&cfg.Server.TrustProxyHeaders, f.Server.TrustProxyHeaders, "server", "trust_proxy_headers")

	o.setInt(&cfg.WebSocket.OutboundQueue, f.WebSocket.OutboundQueue, "websocket", "outbound_queue")
	o.setString(&cfg.WebSocket.OverflowPolicy, f.WebSocket.OverflowPolicy, "websocket", "overflow_policy")
	o.setDuration(&cfg.WebSocket.WriteTimeout, f.WebSocket.WriteTimeout, "websocket", "write_timeout")
	if md.IsDefined("websocket", "read_limit") {
		cfg.WebSocket.ReadLimit = f.WebSocket.ReadLimit
	}
	o.setDuration(&cfg.WebSocket.PingInterval, f.WebSocket.PingInterval, "websocket", "ping_interval")

	if md.IsDefined("rate_limit", "rate") {
		cfg.RateLimit.Rate = f.RateLimit.Rate
	}
	o.setInt(&cfg.RateLimit.Burst, f.RateLimit.Burst, "rate_limit", "burst")
	o.setInt(&cfg.RateLimit.MaxBuckets, f.RateLimit.MaxBuckets, "rate_limit", "max_buckets")
	o.setDuration(&cfg.RateLimit.IdleTTL, f.RateLimit.IdleTTL, "rate_limit", "idle_ttl")
	o.setDuration(&cfg.RateLimit.SweepInterval, f.RateLimit.SweepInterval, "rate_limit", "sweep_interval")

	o.setString(&cfg.Journal.Path, f.Journal.Path, "journal", "path")
	o.setDuration(&cfg.Journal.Retention, f.Journal.Retention, "journal", "retention")
	o.setInt(&cfg.Journal.QueueSize, f.Journal.QueueSize, "journal", "queue_size")

	o.setBool(&cfg.Metrics.Enabled, f.Metrics.Enabled, "metrics", "enabled")

	o.setString(&cfg.Log.Level, strings.ToLower(f.Log.Level), "log", "level")
	o.setString(&cfg.Log.Format, strings.ToLower(f.Log.Format), "log", "format")

	if o.err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, o.err)
	}
	return nil
}

// overlay copies values for keys the file defines and keeps the first
// parse error.
type overlay struct {
	md  toml.MetaData
	err error
}

func (o *overlay) setString(dst *string, v string, key ...string) {
	if o.md.IsDefined(key...) {
		*dst = v
	}
}

func (o *overlay) setInt(dst *int, v int, key ...string) {
	if o.md.IsDefined(key...) {
		*dst = v
	}
}

func (o *overlay) setBool(dst *bool, v bool, key ...string) {
	if o.md.IsDefined(key...) {
		*dst = v
	}
}

func (o *overlay) setDuration(dst *time.Duration, v string, key ...string) {
	if !o.md.IsDefined(key...) || o.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		o.err = fmt.Errorf("%s: %w", strings.Join(key, "."), err)
		return
	}
	*dst = d
}
