package repository

import "github.com/okian/rosecast/pkg/logger"

// Option configures a MemoryStandings store.
type Option func(*MemoryStandings)

// WithLogger sets the store logger.
func WithLogger(log logger.Logger) Option {
	return func(s *MemoryStandings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxLimit caps Top's n.
func WithMaxLimit(n int) Option {
	return func(s *MemoryStandings) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// DirectoryOption configures a MemoryDirectory.
type DirectoryOption func(*MemoryDirectory)

// WithStrict makes Resolve reject users that were never registered.
func WithStrict(strict bool) DirectoryOption {
	return func(d *MemoryDirectory) {
		d.strict = strict
	}
}
