package ws

import (
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/pkg/logger"
)

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock driving pings and deadlines.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithOutboxCapacity bounds each connection's delivery channel.
func WithOutboxCapacity(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.outboxCapacity = n
		}
	}
}

// WithControlRate limits inbound control messages per connection.
func WithControlRate(perSecond float64, burst int) Option {
	return func(h *Handler) {
		if perSecond > 0 && burst > 0 {
			h.controlRate = perSecond
			h.controlBurst = burst
		}
	}
}

// WithCheckOrigin sets the upgrade origin policy.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}
