// Package registry tracks live connections, the user bound to each and the
// topics each is subscribed to.
//
// Lock order: Registry.mu, then topicSubs.mu, then Connection.mu. Callers that
// hold a bus topic lock may enter the registry; the registry never calls out
// to the bus.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

// Audit actions.
const (
	ActionRegister     = "register"
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionDeregister   = "deregister"
)

// AuditEvent records a membership change. It is an audit record, not a
// domain event, and is never delivered to clients.
type AuditEvent struct {
	Action       string
	ConnectionID string
	UserID       string
	Topic        string
	At           time.Time
}

// AuditFunc receives audit records.
type AuditFunc func(ctx context.Context, ev AuditEvent)

type topicSubs struct {
	mu   sync.RWMutex
	subs map[string]*Connection
	dead bool // removed from the registry; subscribers must look it up again
}

// Registry is safe for concurrent use.
type Registry struct {
	clock clockwork.Clock
	log   logger.Logger
	audit AuditFunc

	mu            sync.RWMutex
	conns         map[string]*Connection
	byUser        map[string]map[string]struct{}
	topics        map[string]*topicSubs
	authenticated int
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clock:  clockwork.NewRealClock(),
		log:    logger.Nop(),
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]struct{}),
		topics: make(map[string]*topicSubs),
	}
	r.audit = r.defaultAudit
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) defaultAudit(ctx context.Context, ev AuditEvent) {
	metrics.RecordSubscriptionChange(ev.Action)
	r.log.Debug(ctx, "registry audit",
		logger.String("action", ev.Action),
		logger.String("connection_id", ev.ConnectionID),
		logger.String("user_id", ev.UserID),
		logger.String("topic", ev.Topic))
}

// Register creates a connection owning outbox. It always succeeds.
func (r *Registry) Register(ctx context.Context, outbox Outbox) *Connection {
	now := r.clock.Now()
	c := &Connection{
		id:          uuid.NewString(),
		outbox:      outbox,
		connectedAt: now,
		topics:      make(map[string]struct{}),
		lastSeen:    now,
		quality:     types.QualityExcellent,
	}

	r.mu.Lock()
	r.conns[c.id] = c
	total, authed := len(r.conns), r.authenticated
	r.mu.Unlock()

	metrics.UpdateConnections(total, authed)
	r.audit(ctx, AuditEvent{Action: ActionRegister, ConnectionID: c.id, At: now})
	return c
}

// Get returns the connection with id.
func (r *Registry) Get(connID string) (*Connection, error) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return c, nil
}

// Authenticate binds userID to the connection. Repeating the same binding is
// a no-op; a connection cannot be rebound to a different user.
func (r *Registry) Authenticate(ctx context.Context, connID, userID, username string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrAuthBinding)
	}

	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: unknown connection %s", ErrAuthBinding, connID)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s closed", ErrAuthBinding, connID)
	case c.userID == userID:
		if username != "" {
			c.username = username
		}
		c.mu.Unlock()
		r.mu.Unlock()
		return nil
	case c.userID != "":
		bound := c.userID
		c.mu.Unlock()
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s already bound to %s", ErrAuthBinding, connID, bound)
	}
	c.userID = userID
	c.username = username
	c.mu.Unlock()

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
	r.authenticated++
	total, authed := len(r.conns), r.authenticated
	r.mu.Unlock()

	metrics.UpdateConnections(total, authed)
	r.audit(ctx, AuditEvent{Action: ActionAuthenticate, ConnectionID: connID, UserID: userID, At: r.clock.Now()})
	return nil
}

func (r *Registry) topic(name string, create bool) *topicSubs {
	r.mu.RLock()
	t, ok := r.topics[name]
	r.mu.RUnlock()
	if ok || !create {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.topics[name]; !ok {
		t = &topicSubs{subs: make(map[string]*Connection)}
		r.topics[name] = t
	}
	return t
}

// Subscribe adds topic to the connection. Subscribing twice is a no-op.
func (r *Registry) Subscribe(ctx context.Context, connID, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrInvalidTopic
	}
	c, err := r.Get(connID)
	if err != nil {
		return err
	}

	var t *topicSubs
	for {
		t = r.topic(topic, true)
		t.mu.Lock()
		if !t.dead {
			break
		}
		t.mu.Unlock()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.mu.Unlock()
		r.dropIfEmpty(topic)
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	_, already := c.topics[topic]
	c.topics[topic] = struct{}{}
	userID := c.userID
	c.mu.Unlock()
	t.subs[connID] = c
	t.mu.Unlock()

	if !already {
		r.audit(ctx, AuditEvent{Action: ActionSubscribe, ConnectionID: connID, UserID: userID, Topic: topic, At: r.clock.Now()})
	}
	return nil
}

// Unsubscribe removes topic from the connection. It is a no-op when the
// connection was not subscribed.
func (r *Registry) Unsubscribe(ctx context.Context, connID, topic string) error {
	c, err := r.Get(connID)
	if err != nil {
		return err
	}
	t := r.topic(topic, false)
	if t == nil {
		return nil
	}

	t.mu.Lock()
	c.mu.Lock()
	_, was := c.topics[topic]
	delete(c.topics, topic)
	userID := c.userID
	c.mu.Unlock()
	delete(t.subs, connID)
	t.mu.Unlock()
	r.dropIfEmpty(topic)

	if was {
		r.audit(ctx, AuditEvent{Action: ActionUnsubscribe, ConnectionID: connID, UserID: userID, Topic: topic, At: r.clock.Now()})
	}
	return nil
}

// dropIfEmpty forgets topic once its last subscriber is gone.
func (r *Registry) dropIfEmpty(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topics[name]
	if t == nil {
		return
	}
	t.mu.Lock()
	if len(t.subs) == 0 {
		t.dead = true
		delete(r.topics, name)
	}
	t.mu.Unlock()
}

// ResolveSubscribers returns a sorted snapshot of connection ids subscribed to topic.
func (r *Registry) ResolveSubscribers(topic string) []string {
	t := r.topic(topic, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	out := make([]string, 0, len(t.subs))
	for id := range t.subs {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Fanout calls fn for every subscriber of topic while holding the topic's
// subscription lock, so no subscription change interleaves with a delivery.
// It returns the number of subscribers visited.
func (r *Registry) Fanout(topic string, fn func(c *Connection)) int {
	t := r.topic(topic, false)
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.subs {
		fn(c)
	}
	return len(t.subs)
}

// Deregister removes the connection and all its subscriptions and closes its
// outbox. Unknown ids are ignored.
func (r *Registry) Deregister(ctx context.Context, connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	c.mu.Lock()
	c.closed = true
	c.quality = types.QualityDisconnected
	userID := c.userID
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	if userID != "" {
		if set := r.byUser[userID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byUser, userID)
			}
		}
		r.authenticated--
	}
	subs := make([]*topicSubs, 0, len(topics))
	for _, name := range topics {
		if t := r.topics[name]; t != nil {
			subs = append(subs, t)
		}
	}
	total, authed := len(r.conns), r.authenticated
	r.mu.Unlock()

	for _, t := range subs {
		t.mu.Lock()
		delete(t.subs, connID)
		t.mu.Unlock()
	}
	for _, name := range topics {
		r.dropIfEmpty(name)
	}
	if c.outbox != nil {
		if err := c.outbox.Close(); err != nil {
			r.log.Debug(ctx, "outbox close", logger.String("connection_id", connID), logger.Error(err))
		}
	}

	metrics.UpdateConnections(total, authed)
	r.audit(ctx, AuditEvent{Action: ActionDeregister, ConnectionID: connID, UserID: userID, At: r.clock.Now()})
}

// Touch records that the client was heard from.
func (r *Registry) Touch(connID string) error {
	c, err := r.Get(connID)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
	c.refreshQuality(now)
	return nil
}

// Sweep refreshes every connection's quality and returns the ids of
// connections silent for longer than idle, sorted.
func (r *Registry) Sweep(idle time.Duration) []string {
	now := r.clock.Now()
	var stale []string
	for _, c := range r.connections() {
		c.refreshQuality(now)
		if now.Sub(c.LastSeen()) > idle {
			stale = append(stale, c.id)
		}
	}
	sort.Strings(stale)
	return stale
}

func (r *Registry) connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// UserConnections returns the connections bound to userID.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Connection, 0, len(set))
	for id := range set {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ViewerCount returns how many authenticated connections watch topic.
func (r *Registry) ViewerCount(topic string) int {
	n := 0
	r.Fanout(topic, func(c *Connection) {
		if c.Authenticated() {
			n++
		}
	})
	return n
}

// Topics returns every topic that currently has a subscriber, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.topics))
	for name := range r.topics {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Stats summarises connections, subscriptions and quality.
func (r *Registry) Stats() types.ConnectionStats {
	st := types.ConnectionStats{
		Topics:  make(map[string]int),
		Quality: make(map[types.Quality]int),
	}
	for _, c := range r.connections() {
		st.Total++
		if c.Authenticated() {
			st.Authenticated++
		}
		st.Quality[c.Quality()]++
	}
	for _, name := range r.Topics() {
		if n := len(r.ResolveSubscribers(name)); n > 0 {
			st.Topics[name] = n
		}
	}
	return st
}
