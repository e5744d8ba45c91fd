package bus

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/domain/dedupe"
	"github.com/okian/rosecast/internal/domain/livestats"
	"github.com/okian/rosecast/pkg/logger"
)

// Option configures a Bus.
type Option func(*Bus)

// WithClock sets the clock used to stamp events.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(log logger.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// WithBufferSize sets how many events each topic retains for catch-up.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLiveStats sets the aggregator fed by published events.
func WithLiveStats(a *livestats.Aggregator) Option {
	return func(b *Bus) {
		if a != nil {
			b.stats = a
		}
	}
}

// WithDeduper drops events whose producer id was already published.
func WithDeduper(d dedupe.Deduper) Option {
	return func(b *Bus) {
		b.dedupe = d
	}
}
