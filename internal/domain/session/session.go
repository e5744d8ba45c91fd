// Package session authenticates connections and resumes their topic
// subscriptions after a reconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/registry"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

// Directory resolves the identity a client presents.
type Directory interface {
	Resolve(ctx context.Context, id, username string) (types.User, error)
}

// ResumeRequest carries what a reconnecting client last saw per topic. A nil
// cursor subscribes the topic fresh. A zero cursor asks for everything
// retained: the client was subscribed but has not seen an event yet.
type ResumeRequest struct {
	UserID   string
	Username string
	Topics   map[string]*time.Time
}

// ResumeResult reports how many events were replayed per topic, which topics
// could not be caught up and need a full refresh, and the cursor each
// subscribed topic now starts from.
type ResumeResult struct {
	Replayed map[string]int       `json:"replayed"`
	Gaps     []string             `json:"gaps"`
	Cursors  map[string]time.Time `json:"cursors"`
}

// Start describes a new subscription. Every event delivered on it after the
// replayed ones is newer than Cursor.
type Start struct {
	Replayed int
	Cursor   time.Time
}

// Manager coordinates the registry and the bus for connection lifecycle
// requests coming from the transport.
type Manager struct {
	reg   *registry.Registry
	bus   *bus.Bus
	users Directory
	log   logger.Logger
}

// New creates a session manager.
func New(reg *registry.Registry, b *bus.Bus, opts ...Option) *Manager {
	m := &Manager{reg: reg, bus: b, log: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate binds the connection to a user, resolving the username from
// the directory when one is configured.
func (m *Manager) Authenticate(ctx context.Context, connID, userID, username string) (types.User, error) {
	u := types.User{ID: userID, Username: username}
	if m.users != nil {
		resolved, err := m.users.Resolve(ctx, userID, username)
		if err != nil {
			return types.User{}, fmt.Errorf("%w: %w", registry.ErrAuthBinding, err)
		}
		u = resolved
	}
	if err := m.reg.Authenticate(ctx, connID, u.ID, u.Username); err != nil {
		m.log.Warn(ctx, "authentication failed",
			logger.String("connection_id", connID),
			logger.String("user_id", userID),
			logger.Error(err))
		return types.User{}, err
	}
	m.log.Info(ctx, "connection authenticated",
		logger.String("connection_id", connID),
		logger.String("user_id", u.ID))
	return u, nil
}

// Subscribe starts delivery of topic. Without since the client gets the
// current LiveStats snapshot and live events; with since it first gets every
// retained event newer than since. On a gap the subscription still starts
// and the returned error wraps ErrGapDetected.
func (m *Manager) Subscribe(ctx context.Context, connID, topic string, since *time.Time) (Start, error) {
	if since == nil {
		head, err := m.bus.Subscribe(ctx, connID, topic)
		return Start{Cursor: head}, err
	}

	c, err := m.reg.Get(connID)
	if err != nil {
		return Start{}, err
	}
	out := c.Outbox()
	out.Hold()
	events, err := m.bus.SubscribeFrom(ctx, connID, topic, *since)
	if rerr := out.Release(); rerr != nil {
		m.log.Debug(ctx, "release after catch-up", logger.String("connection_id", connID), logger.Error(rerr))
	}
	var gap *bus.GapError
	if errors.As(err, &gap) {
		return Start{Cursor: gap.Head}, err
	}
	return Start{Replayed: len(events), Cursor: *since}, err
}

// Unsubscribe stops delivery of topic to the connection.
func (m *Manager) Unsubscribe(ctx context.Context, connID, topic string) error {
	if err := m.bus.Unsubscribe(ctx, connID, topic); err != nil {
		m.log.Debug(ctx, "unsubscribe failed",
			logger.String("connection_id", connID),
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}
	return nil
}

// Resume restores a reconnecting client's subscriptions on a new
// connection. Live events arriving during catch-up are held back and
// delivered after the replayed ones, so each topic reads as one unbroken
// sequence. A gap on one topic does not stop the others.
func (m *Manager) Resume(ctx context.Context, connID string, req ResumeRequest) (ResumeResult, error) {
	res := ResumeResult{Replayed: make(map[string]int), Cursors: make(map[string]time.Time)}

	c, err := m.reg.Get(connID)
	if err != nil {
		return res, err
	}
	if req.UserID != "" {
		if _, err := m.Authenticate(ctx, connID, req.UserID, req.Username); err != nil {
			return res, err
		}
	}

	topics := make([]string, 0, len(req.Topics))
	for t := range req.Topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	out := c.Outbox()
	out.ClearLossy()
	out.Hold()

	var errs []error
	for _, t := range topics {
		since := req.Topics[t]
		if since == nil {
			head, err := m.bus.Subscribe(ctx, connID, t)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			res.Cursors[t] = head
			continue
		}
		events, err := m.bus.SubscribeFrom(ctx, connID, t, *since)
		var gap *bus.GapError
		switch {
		case errors.As(err, &gap):
			res.Gaps = append(res.Gaps, t)
			res.Cursors[t] = gap.Head
		case err != nil:
			errs = append(errs, err)
		default:
			res.Replayed[t] = len(events)
			res.Cursors[t] = *since
		}
	}

	if err := out.Release(); err != nil {
		m.log.Debug(ctx, "release after resume", logger.String("connection_id", connID), logger.Error(err))
	}
	metrics.RecordResume()
	m.log.Info(ctx, "session resumed",
		logger.String("connection_id", connID),
		logger.Int("topics", len(topics)),
		logger.Int("gaps", len(res.Gaps)))
	return res, errors.Join(errs...)
}
