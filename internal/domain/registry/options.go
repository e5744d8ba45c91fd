package registry

import (
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/pkg/logger"
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for last-seen tracking.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithAudit replaces the audit hook invoked on membership changes.
func WithAudit(fn AuditFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.audit = fn
		}
	}
}
