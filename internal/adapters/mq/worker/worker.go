// Package worker publishes producer events from sharded ingest queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rosecast/internal/adapters/mq/queue"
	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/logger"
	"github.com/okian/rosecast/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultShardCapacity  = 10_000
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Publisher sequences and fans out an event.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) (model.Event, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue() <-chan queue.Item
}

// Worker drains one queue into the publisher.
type Worker interface {
	// Run starts the worker loop until the queue is closed and drained or
	// ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	publisher Publisher
	name      string

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, p Publisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		publisher: p,
		name:      "worker",
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("worker")
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run publishes queued events in order. Items still queued when the queue
// is closed are drained before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := w.process(ctx, item); err != nil {
				w.logger.Debug(ctx, "event not published", logger.Error(err))
			}
		}
	}
}

// Shutdown waits for the worker to finish or ctx to expire.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, item queue.Item) error { //nolint:gocritic // hugeParam: items travel by value
	start := time.Now()
	metrics.RecordQueueDequeue()
	metrics.RecordQueueProcessingLatency(float64(start.Sub(item.EnqueuedAt).Microseconds()) / 1000)
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	_, err := w.publisher.Publish(ctx, item.Event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bus.ErrDuplicateEvent):
		return err
	case errors.Is(err, model.ErrInvalidEvent):
		metrics.RecordErrorByComponent("worker", "invalid_event")
	default:
		metrics.RecordErrorByComponent("worker", "publish_error")
		w.logger.Error(ctx, "publish failed",
			logger.String("event_id", item.Event.ID),
			logger.String("topic", item.Event.Topic),
			logger.Error(err))
	}
	metrics.RecordWorkerError()
	return fmt.Errorf("publish %s: %w", item.Event.ID, err)
}

// Pool shards producer events by topic over independent queues, each
// drained by a single worker, so events of one topic are published in the
// order they were submitted while topics proceed in parallel.
type Pool struct {
	publisher     Publisher
	shards        int
	shardCapacity int
	queues        []*queue.InMemoryQueue
	workers       []*InMemoryWorker

	started  atomic.Bool
	stopOnce sync.Once
	shutdown chan struct{}
	logger   logger.Logger
}

// NewPool creates a pool publishing into p.
func NewPool(p Publisher, opts ...PoolOption) *Pool {
	pool := &Pool{
		publisher:     p,
		shards:        runtime.NumCPU(),
		shardCapacity: defaultShardCapacity,
		shutdown:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}
	if pool.logger == nil {
		pool.logger = logger.Get().Named("worker-pool")
	}

	pool.queues = make([]*queue.InMemoryQueue, pool.shards)
	pool.workers = make([]*InMemoryWorker, pool.shards)
	for i := 0; i < pool.shards; i++ {
		pool.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(pool.shardCapacity))
		pool.workers[i] = NewInMemoryWorker(pool.queues[i], p,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(pool.logger))
	}

	metrics.UpdateWorkerCount(pool.shards)
	metrics.UpdateQueueCapacity(pool.shards * pool.shardCapacity)
	return pool
}

// Shard returns the shard index topic is routed to.
func (p *Pool) Shard(topic string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int(h.Sum32() % uint32(p.shards)) //nolint:gosec // shards is a small positive count
}

// Submit queues e on its topic's shard without blocking.
func (p *Pool) Submit(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: events travel by value
	q := p.queues[p.Shard(e.Topic)]
	if q.IsClosed() {
		return queue.ErrStopped
	}
	if !q.Enqueue(ctx, e) {
		if q.IsClosed() {
			return queue.ErrStopped
		}
		return fmt.Errorf("%w: topic %s", ErrQueueFull, e.Topic)
	}
	return nil
}

// Len returns the number of events waiting across all shards.
func (p *Pool) Len() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}

// Capacity returns the combined bound of all shards.
func (p *Pool) Capacity() int { return p.shards * p.shardCapacity }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	size := p.Len()
	metrics.UpdateQueueSize(size)
	if c := p.Capacity(); c > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(c))
	}
}

// Shutdown stops intake and waits for workers to drain what was queued.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		for _, q := range p.queues {
			if err := q.Close(); err != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(err))
			}
		}
		close(p.shutdown)
	})
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
