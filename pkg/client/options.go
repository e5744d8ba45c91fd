package client

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/pkg/logger"
)

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithClock sets the clock used for pings, quality and backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPingInterval sets how often the session measures round trip latency.
func WithPingInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithReconnect enables automatic reconnection with exponential backoff
// between base and maxWait. A zero base disables it.
func WithReconnect(base, maxWait time.Duration) Option {
	return func(s *Session) {
		s.reconnectBase = base
		s.reconnectMax = maxWait
		if s.reconnectMax < base {
			s.reconnectMax = base
		}
	}
}
