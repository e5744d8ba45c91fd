package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/types"
)

// Outbox is the per-connection delivery channel the registry owns.
type Outbox interface {
	// Enqueue queues a live event without blocking on I/O.
	Enqueue(e model.Event) error
	// Replay queues catch-up events ahead of anything held back by Hold.
	Replay(events []model.Event) error
	// Hold diverts live events until Release.
	Hold()
	// Release re-admits held events that were not already replayed.
	Release() error
	// Lossy reports whether a critical event was lost since the last resync.
	Lossy() bool
	// ClearLossy marks the client as resynchronised.
	ClearLossy()
	// Close discards queued events and refuses new ones.
	Close() error
}

// Connection is one live client session. The registry is its sole owner.
type Connection struct {
	id          string
	outbox      Outbox
	connectedAt time.Time

	mu       sync.RWMutex
	userID   string
	username string
	topics   map[string]struct{}
	lastSeen time.Time
	quality  types.Quality
	closed   bool
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Outbox returns the connection's delivery channel.
func (c *Connection) Outbox() Outbox { return c.outbox }

// ConnectedAt returns when the connection was registered.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// UserID returns the bound user, or "" if unauthenticated.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Username returns the bound username.
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Authenticated reports whether a user is bound.
func (c *Connection) Authenticated() bool {
	return c.UserID() != ""
}

// Subscribed reports whether the connection receives topic.
func (c *Connection) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// Topics returns the subscribed topics, sorted.
func (c *Connection) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Quality returns the last computed connection quality.
func (c *Connection) Quality() types.Quality {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quality
}

// LastSeen returns when the client was last heard from.
func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() types.ConnectionInfo {
	topics := c.Topics()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ConnectionInfo{
		ID:          c.id,
		UserID:      c.userID,
		Username:    c.username,
		Topics:      topics,
		Quality:     c.quality,
		ConnectedAt: c.connectedAt,
		LastSeenAt:  c.lastSeen,
	}
}

func (c *Connection) refreshQuality(now time.Time) types.Quality {
	lossy := c.outbox != nil && c.outbox.Lossy()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.quality = types.QualityFor(now.Sub(c.lastSeen), lossy)
	}
	return c.quality
}
