package session

import "github.com/okian/rosecast/pkg/logger"

// Option configures a Manager.
type Option func(*Manager)

// WithDirectory resolves users through d on authentication.
func WithDirectory(d Directory) Option {
	return func(m *Manager) {
		m.users = d
	}
}

// WithLogger sets the manager logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}
