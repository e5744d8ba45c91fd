// Package queue holds the bounded in-memory queues of the service: the
// producer ingest queue drained by workers and the per-connection delivery
// channel drained by the socket writer.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Item is a producer event waiting to be published.
type Item struct {
	Event      model.Event
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event. It returns false if the queue is full or closed.
	Enqueue(ctx context.Context, e model.Event) bool

	// Dequeue returns the channel items are delivered on. It is closed when
	// the queue is closed and drained.
	Dequeue() <-chan Item

	// Len returns the current number of queued items.
	Len() int

	// Capacity returns the queue bound.
	Capacity() int

	// Close stops accepting events.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)
	return q
}

// Enqueue adds an event to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e model.Event) bool { //nolint:gocritic // hugeParam: events travel by value
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("ingest_queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("ingest_queue", "context_cancelled")
		return false
	}

	select {
	case q.items <- Item{Event: e, EnqueuedAt: time.Now()}:
		metrics.RecordQueueEnqueue()
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("ingest_queue", "queue_full")
		return false
	}
}

// Dequeue returns the item channel.
func (q *InMemoryQueue) Dequeue() <-chan Item {
	return q.items
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len() int {
	return len(q.items)
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting events; queued items remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
