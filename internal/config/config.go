// Package config defines service configuration and its defaults.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RecentBufferSize is the number of events retained per topic for catch-up.
	RecentBufferSize int `koanf:"recent_buffer_size"`

	// OutboxCapacity bounds each connection's delivery channel.
	OutboxCapacity int `koanf:"outbox_capacity"`

	// IngestQueueSize bounds each producer ingest shard.
	IngestQueueSize int `koanf:"ingest_queue_size"`

	// IngestShards sets the number of topic-sharded ingest workers.
	IngestShards int `koanf:"ingest_shards"`

	// DedupeSize sets how many producer event ids are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// LiveStatsIntervalMS is the LiveStats synthesis period.
	LiveStatsIntervalMS int `koanf:"live_stats_interval_ms"`

	// SweepIntervalMS and IdleTimeoutMS drive the stale connection reaper.
	SweepIntervalMS int `koanf:"sweep_interval_ms"`
	IdleTimeoutMS   int `koanf:"idle_timeout_ms"`

	// ControlRatePerSec and ControlBurst limit inbound control messages per connection.
	ControlRatePerSec float64 `koanf:"control_rate_per_sec"`
	ControlBurst      int     `koanf:"control_burst"`

	// AllowedOrigins is a comma separated list of websocket origins; empty allows any.
	AllowedOrigins string `koanf:"allowed_origins"`

	// MaxRecentLimit caps GET /topics/{topic}/recent?limit.
	MaxRecentLimit int `koanf:"max_recent_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		RecentBufferSize:    20,
		OutboxCapacity:      200,
		IngestQueueSize:     10_000,
		IngestShards:        runtime.NumCPU(),
		DedupeSize:          100_000,
		LiveStatsIntervalMS: 5_000,
		SweepIntervalMS:     30_000,
		IdleTimeoutMS:       300_000,
		ControlRatePerSec:   10,
		ControlBurst:        20,
		MaxRecentLimit:      100,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RecentBufferSize <= 0:
		return fmt.Errorf("%w: recent_buffer_size must be positive", ErrInvalidConfig)
	case c.OutboxCapacity <= 0:
		return fmt.Errorf("%w: outbox_capacity must be positive", ErrInvalidConfig)
	case c.IngestQueueSize <= 0 || c.IngestShards <= 0:
		return fmt.Errorf("%w: ingest queue size and shards must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.LiveStatsIntervalMS <= 0 || c.SweepIntervalMS <= 0 || c.IdleTimeoutMS <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.ControlRatePerSec <= 0 || c.ControlBurst <= 0:
		return fmt.Errorf("%w: control rate and burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// LiveStatsInterval returns the LiveStats synthesis period.
func (c *Config) LiveStatsInterval() time.Duration {
	return time.Duration(c.LiveStatsIntervalMS) * time.Millisecond
}

// SweepInterval returns how often idle connections are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// IdleTimeout returns how long a silent connection survives.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// Origins splits AllowedOrigins into a list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
