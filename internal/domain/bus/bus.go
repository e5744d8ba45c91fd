// Package bus sequences events per topic, retains a short history for
// catch-up and fans events out to subscribed connections.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/domain/dedupe"
	"github.com/okian/rosecast/internal/domain/livestats"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/registry"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

const defaultBufferSize = 20

// directTopicPrefix scopes events sent to a single user.
const directTopicPrefix = "user:"

type topicLog struct {
	mu     sync.Mutex
	buf    *RecentBuffer
	seq    uint64
	lastTS time.Time
}

// Bus is the single publish path for every event.
//
// Events on one topic are stamped and fanned out under that topic's lock, so
// every subscriber observes them in publication order. Topics do not block
// each other.
type Bus struct {
	reg        *registry.Registry
	stats      *livestats.Aggregator
	dedupe     dedupe.Deduper
	clock      clockwork.Clock
	log        logger.Logger
	bufferSize int

	mu     sync.RWMutex
	topics map[string]*topicLog
}

// New creates a bus delivering through reg.
func New(reg *registry.Registry, opts ...Option) *Bus {
	b := &Bus{
		reg:        reg,
		clock:      clockwork.NewRealClock(),
		log:        logger.Nop(),
		bufferSize: defaultBufferSize,
		topics:     make(map[string]*topicLog),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.stats == nil {
		b.stats = livestats.New(livestats.WithLogger(b.log))
	}
	return b
}

func (b *Bus) topic(name string, create bool) *topicLog {
	b.mu.RLock()
	tl := b.topics[name]
	b.mu.RUnlock()
	if tl != nil || !create {
		return tl
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tl = b.topics[name]; tl == nil {
		tl = &topicLog{buf: NewRecentBuffer(b.bufferSize)}
		b.topics[name] = tl
	}
	return tl
}

// withTopic runs fn under the topic's sequencing lock. A topic nobody has
// published to has no log; fn then runs under the bus lock with a nil log,
// which keeps a first publish from interleaving without creating a log.
func (b *Bus) withTopic(name string, fn func(tl *topicLog)) {
	if tl := b.topic(name, false); tl != nil {
		tl.mu.Lock()
		defer tl.mu.Unlock()
		fn(tl)
		return
	}
	b.mu.Lock()
	if tl := b.topics[name]; tl != nil {
		b.mu.Unlock()
		tl.mu.Lock()
		defer tl.mu.Unlock()
		fn(tl)
		return
	}
	defer b.mu.Unlock()
	fn(nil)
}

// head is the timestamp every later event of the topic will be after.
func (tl *topicLog) head() time.Time {
	if tl == nil {
		return time.Time{}
	}
	return tl.lastTS
}

// stamp keeps a producer timestamp unless it does not advance the topic, in
// which case it is moved just past the previous event. A missing timestamp
// becomes now.
func (b *Bus) stamp(tl *topicLog, ts time.Time) time.Time {
	if ts.IsZero() {
		ts = b.clock.Now()
	}
	ts = ts.UTC()
	if !ts.After(tl.lastTS) {
		ts = tl.lastTS.Add(time.Nanosecond)
	}
	tl.lastTS = ts
	return ts
}

// Publish validates, sequences, records and fans out e. It returns the event
// as delivered, with id, sequence number and timestamp assigned. Per
// connection delivery problems are handled by the connection's outbox and
// never fail the publish.
//
// LiveStats are snapshots: they get no sequence number, are not retained and
// do not move the topic's timestamp.
func (b *Bus) Publish(ctx context.Context, e model.Event) (model.Event, error) { //nolint:gocritic // hugeParam: events travel by value
	start := time.Now()

	if err := e.Validate(); err != nil {
		metrics.RecordEventInvalid()
		b.log.Warn(ctx, "rejected invalid event",
			logger.String("topic", e.Topic),
			logger.String("kind", string(e.Kind)),
			logger.Error(err))
		return e, fmt.Errorf("publish: %w", err)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if b.dedupe != nil && b.dedupe.SeenAndRecord(ctx, e.ID) {
		metrics.RecordEventDuplicate()
		b.log.Debug(ctx, "duplicate event", logger.String("event_id", e.ID))
		return e, fmt.Errorf("publish %s: %w", e.ID, ErrDuplicateEvent)
	}

	var reached int
	if e.Kind == model.KindLiveStats {
		e.Seq = 0
		if e.Timestamp.IsZero() {
			e.Timestamp = b.clock.Now().UTC()
		}
		b.withTopic(e.Topic, func(*topicLog) {
			reached = b.fanout(ctx, e)
		})
	} else {
		tl := b.topic(e.Topic, true)
		tl.mu.Lock()
		tl.seq++
		e.Seq = tl.seq
		e.Timestamp = b.stamp(tl, e.Timestamp)
		if tl.buf.Append(e) {
			metrics.RecordBufferEviction()
		}
		b.stats.Observe(ctx, e)
		reached = b.fanout(ctx, e)
		tl.mu.Unlock()
	}

	metrics.RecordEventPublished(string(e.Kind))
	metrics.RecordFanoutSize(reached)
	metrics.RecordPublishLatency(float64(time.Since(start).Microseconds()) / 1000)
	return e, nil
}

func (b *Bus) fanout(ctx context.Context, e model.Event) int { //nolint:gocritic // hugeParam: events travel by value
	return b.reg.Fanout(e.Topic, func(c *registry.Connection) {
		if err := c.Outbox().Enqueue(e); err != nil {
			b.log.Debug(ctx, "delivery refused",
				logger.String("connection_id", c.ID()),
				logger.String("topic", e.Topic),
				logger.Uint64("seq", e.Seq),
				logger.Error(err))
		}
	})
}

// CatchUp returns the retained events of topic newer than since, oldest
// first. If older history was evicted it returns a *GapError.
func (b *Bus) CatchUp(topic string, since time.Time) ([]model.Event, error) {
	tl := b.topic(topic, false)
	if tl == nil {
		return nil, nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	events, err := tl.buf.Since(since)
	if err != nil {
		return nil, &GapError{Topic: topic, Since: since, Head: tl.lastTS}
	}
	return events, nil
}

// Subscribe adds a live subscription and sends the current LiveStats
// snapshot ahead of any new event. It returns the topic head: every event
// delivered on the subscription is newer than it.
func (b *Bus) Subscribe(ctx context.Context, connID, topic string) (time.Time, error) {
	c, err := b.reg.Get(connID)
	if err != nil {
		return time.Time{}, err
	}
	var head time.Time
	b.withTopic(topic, func(tl *topicLog) {
		if err = b.reg.Subscribe(ctx, connID, topic); err != nil {
			return
		}
		head = tl.head()
		snap := b.snapshot(ctx, topic)
		if qerr := c.Outbox().Enqueue(snap); qerr != nil {
			b.log.Debug(ctx, "snapshot refused", logger.String("connection_id", connID), logger.Error(qerr))
		}
	})
	return head, err
}

// SubscribeFrom replays retained events of topic newer than since to the
// connection and subscribes it, atomically with respect to publishes on
// topic, so the client sees neither a hole nor a duplicate at the seam. A
// zero since asks for everything retained.
//
// If history newer than since was evicted nothing is replayed, the
// subscription still takes effect and a *GapError carrying the topic head is
// returned so the client can refresh.
func (b *Bus) SubscribeFrom(ctx context.Context, connID, topic string, since time.Time) ([]model.Event, error) {
	c, err := b.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	var (
		events []model.Event
		head   time.Time
		gap    error
	)
	b.withTopic(topic, func(tl *topicLog) {
		if tl != nil {
			events, gap = tl.buf.Since(since)
		}
		if err = b.reg.Subscribe(ctx, connID, topic); err != nil {
			return
		}
		head = tl.head()
		if gap != nil {
			events = nil
			return
		}
		if len(events) > 0 {
			if rerr := c.Outbox().Replay(events); rerr != nil {
				b.log.Debug(ctx, "replay refused", logger.String("connection_id", connID), logger.Error(rerr))
			}
		}
	})
	switch {
	case err != nil:
		return nil, err
	case gap != nil:
		metrics.RecordGapDetected()
		b.log.Info(ctx, "catch-up gap",
			logger.String("connection_id", connID),
			logger.String("topic", topic),
			logger.Time("since", since))
		return nil, &GapError{Topic: topic, Since: since, Head: head}
	}
	metrics.RecordCatchUpReplayed(len(events))
	return events, nil
}

// Unsubscribe removes a subscription. Removing a missing one is a no-op.
func (b *Bus) Unsubscribe(ctx context.Context, connID, topic string) error {
	return b.reg.Unsubscribe(ctx, connID, topic)
}

// Snapshot returns an unsequenced LiveStats event for topic.
func (b *Bus) Snapshot(ctx context.Context, topic string) model.Event {
	return b.snapshot(ctx, topic)
}

func (b *Bus) snapshot(ctx context.Context, topic string) model.Event {
	e := model.New(topic, b.stats.Snapshot(ctx, topic, b.reg.ViewerCount(topic)))
	e.ID = uuid.NewString()
	e.Timestamp = b.clock.Now().UTC()
	return e
}

// SynthesizeLiveStats publishes a LiveStats event on every topic that
// currently has a subscriber.
func (b *Bus) SynthesizeLiveStats(ctx context.Context) ([]model.Event, error) {
	topics := b.reg.Topics()

	var (
		out  []model.Event
		errs []error
	)
	for _, t := range topics {
		payload := b.stats.Snapshot(ctx, t, b.reg.ViewerCount(t))
		e, err := b.Publish(ctx, model.New(t, payload))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, e)
	}
	return out, errors.Join(errs...)
}

// SendToUser delivers payload to every connection of userID without
// sequencing or retaining it. It returns how many connections accepted it.
func (b *Bus) SendToUser(ctx context.Context, userID string, payload model.Payload) (int, error) {
	e := model.New(directTopicPrefix+userID, payload)
	e.ID = uuid.NewString()
	e.Timestamp = b.clock.Now().UTC()
	if err := e.Validate(); err != nil {
		metrics.RecordEventInvalid()
		return 0, fmt.Errorf("send to user: %w", err)
	}

	n := 0
	for _, c := range b.reg.UserConnections(userID) {
		if err := c.Outbox().Enqueue(e); err != nil {
			b.log.Debug(ctx, "direct delivery refused", logger.String("connection_id", c.ID()), logger.Error(err))
			continue
		}
		n++
	}
	metrics.RecordDirectDelivery()
	return n, nil
}

// Recent returns up to limit of the newest retained events of topic, oldest
// first. A non-positive limit returns everything retained.
func (b *Bus) Recent(topic string, limit int) []model.Event {
	tl := b.topic(topic, false)
	if tl == nil {
		return nil
	}
	tl.mu.Lock()
	events := tl.buf.Events()
	tl.mu.Unlock()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// Topics returns every topic that has been published to, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Stats summarises each topic.
func (b *Bus) Stats() []types.TopicStats {
	topics := b.Topics()
	out := make([]types.TopicStats, 0, len(topics))
	for _, t := range topics {
		tl := b.topic(t, false)
		tl.mu.Lock()
		out = append(out, types.TopicStats{
			Topic:         t,
			Seq:           tl.seq,
			Buffered:      tl.buf.Len(),
			Evicted:       tl.buf.Evicted(),
			LastPublished: tl.lastTS,
		})
		tl.mu.Unlock()
	}
	return out
}
