package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

const (
	defaultChannelCapacity = 200
	defaultMaxBatch        = 32
)

// State of a delivery channel.
type State int

// Channel states: idle -> queued -> flushing -> idle, and closed from any state.
const (
	StateIdle State = iota
	StateQueued
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Sink writes delivered events to the transport.
type Sink interface {
	WriteEvent(ctx context.Context, e model.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e model.Event) error

// WriteEvent implements Sink.
func (f SinkFunc) WriteEvent(ctx context.Context, e model.Event) error { return f(ctx, e) }

type seqKey struct {
	topic string
	seq   uint64
}

// Channel is a bounded per-connection outbound queue.
//
// Enqueue never blocks on I/O. When the queue is full the oldest queued
// non-critical event is evicted; if every queued event is critical, an
// incoming non-critical event is dropped and an incoming critical event is
// lost, which marks the channel lossy. A lossy channel refuses further events
// until ClearLossy is called after the client resynchronises.
type Channel struct {
	capacity int
	maxBatch int
	log      logger.Logger

	mu          sync.Mutex
	queue       []model.Event
	state       State
	lossy       bool
	lossyNotice bool
	holding     bool
	held        []model.Event
	replayed    map[seqKey]struct{}

	ready   chan struct{}
	done    chan struct{}
	flushMu sync.Mutex
}

// NewChannel creates an idle delivery channel.
func NewChannel(opts ...ChannelOption) *Channel {
	c := &Channel{
		capacity: defaultChannelCapacity,
		maxBatch: defaultMaxBatch,
		log:      logger.Nop(),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue queues a live event. While the channel is held the event waits
// until Release.
func (c *Channel) Enqueue(e model.Event) error { //nolint:gocritic // hugeParam: events travel by value
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateClosed:
		return ErrClosed
	case c.lossy:
		metrics.RecordOutboxDropped()
		return fmt.Errorf("%w: awaiting resync", ErrLossyDelivery)
	case c.holding:
		return c.admit(&c.held, e)
	}
	err := c.admit(&c.queue, e)
	c.markQueued()
	return err
}

// Replay queues catch-up events in order, ahead of any held live events.
func (c *Channel) Replay(events []model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClosed
	}
	var firstErr error
	for _, e := range events {
		if c.holding && e.Seq > 0 {
			c.replayed[seqKey{e.Topic, e.Seq}] = struct{}{}
		}
		if err := c.admit(&c.queue, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.markQueued()
	return firstErr
}

// Hold diverts live events into a side list until Release.
func (c *Channel) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holding {
		return
	}
	c.holding = true
	c.held = nil
	c.replayed = make(map[seqKey]struct{})
}

// Release appends held events that were not already replayed and resumes
// normal delivery.
func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.holding {
		return nil
	}

	var firstErr error
	if c.state != StateClosed {
		for _, e := range c.held {
			if _, dup := c.replayed[seqKey{e.Topic, e.Seq}]; dup && e.Seq > 0 {
				continue
			}
			if err := c.admit(&c.queue, e); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		c.markQueued()
	}
	c.holding = false
	c.held = nil
	c.replayed = nil
	return firstErr
}

// admit applies the backpressure policy to list. Caller holds c.mu.
func (c *Channel) admit(list *[]model.Event, e model.Event) error { //nolint:gocritic // hugeParam: events travel by value
	if len(*list) < c.capacity {
		*list = append(*list, e)
		metrics.RecordOutboxEnqueued()
		return nil
	}

	for i, queued := range *list {
		if !queued.Critical() {
			*list = append((*list)[:i], (*list)[i+1:]...)
			*list = append(*list, e)
			metrics.RecordOutboxEvicted()
			metrics.RecordOutboxEnqueued()
			return nil
		}
	}

	if !e.Critical() {
		metrics.RecordOutboxDropped()
		return fmt.Errorf("%w: %s seq %d", ErrDropped, e.Kind, e.Seq)
	}

	c.lossy = true
	c.lossyNotice = true
	c.signal()
	metrics.RecordLossyDelivery()
	return &LossyDeliveryError{Topic: e.Topic, Seq: e.Seq}
}

// markQueued moves an idle channel with pending events to queued and wakes
// the writer. Caller holds c.mu.
func (c *Channel) markQueued() {
	if len(c.queue) == 0 {
		return
	}
	if c.state == StateIdle {
		c.state = StateQueued
	}
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Flush writes queued events to sink in FIFO order until the queue is empty.
// Only one flush runs at a time. A sink error closes the channel.
func (c *Channel) Flush(ctx context.Context, sink Sink) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return ErrClosed
		}
		n := min(len(c.queue), c.maxBatch)
		if n == 0 {
			c.state = StateIdle
			c.mu.Unlock()
			return nil
		}
		batch := make([]model.Event, n)
		copy(batch, c.queue[:n])
		c.queue = c.queue[n:]
		c.state = StateFlushing
		c.mu.Unlock()

		start := time.Now()
		for _, e := range batch {
			if err := sink.WriteEvent(ctx, e); err != nil {
				c.log.Debug(ctx, "delivery write failed", logger.String("topic", e.Topic), logger.Error(err))
				_ = c.Close()
				return fmt.Errorf("flush: %w", err)
			}
		}
		metrics.RecordFlush(n, float64(time.Since(start).Microseconds())/1000)
	}
}

// Ready is signalled when there is something for the writer to do.
func (c *Channel) Ready() <-chan struct{} { return c.ready }

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close discards queued events and refuses new ones. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.queue = nil
	c.held = nil
	close(c.done)
	return nil
}

// Lossy reports whether a critical event was lost since the last resync.
func (c *Channel) Lossy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lossy
}

// ClearLossy re-enables delivery after the client resynchronised.
func (c *Channel) ClearLossy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lossy = false
	c.lossyNotice = false
}

// TakeLossyNotice reports, once, that the client must be told to resync.
func (c *Channel) TakeLossyNotice() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lossyNotice
	c.lossyNotice = false
	return n
}

// State returns the current channel state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
