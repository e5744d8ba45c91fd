package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/config"
	"github.com/okian/rosecast/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig applies every setting in cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		WithIngestShards(cfg.IngestShards)(s)
		WithQueueSize(cfg.IngestQueueSize)(s)
		WithDedupeSize(cfg.DedupeSize)(s)
		WithBufferSize(cfg.RecentBufferSize)(s)
		WithOutboxCapacity(cfg.OutboxCapacity)(s)
		WithLiveStatsInterval(cfg.LiveStatsInterval())(s)
		WithSweep(cfg.SweepInterval(), cfg.IdleTimeout())(s)
		WithControlRate(cfg.ControlRatePerSec, cfg.ControlBurst)(s)
		WithAllowedOrigins(cfg.Origins())(s)
		WithMaxLimit(cfg.MaxRecentLimit)(s)
	}
}

// WithIngestShards sets the number of topic-sharded ingest workers.
func WithIngestShards(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.ingestShards = n
		}
	}
}

// WithQueueSize sets the capacity of each ingest shard.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBufferSize sets how many events each topic retains for catch-up.
func WithBufferSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithOutboxCapacity bounds each connection's delivery channel.
func WithOutboxCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.outboxCapacity = n
		}
	}
}

// WithLiveStatsInterval sets how often LiveStats are synthesised.
func WithLiveStatsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.liveStatsInterval = d
		}
	}
}

// WithSweep sets how often idle connections are reaped and after how long.
func WithSweep(interval, idle time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.sweepInterval = interval
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithControlRate limits inbound websocket control messages per connection.
func WithControlRate(perSecond float64, burst int) Option {
	return func(s *Service) {
		if perSecond > 0 && burst > 0 {
			s.controlRate = perSecond
			s.controlBurst = burst
		}
	}
}

// WithAllowedOrigins restricts websocket origins. Empty allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Service) {
		s.origins = origins
	}
}

// WithMaxLimit caps list endpoint limits.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithClock sets the clock driving periodic work.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.logger = log
		}
	}
}
