package worker

import (
	"github.com/okian/rosecast/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(log logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if log != nil {
			w.logger = log
		}
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithShards sets how many independent queues and workers the pool runs.
func WithShards(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.shards = n
		}
	}
}

// WithShardCapacity bounds each shard's queue.
func WithShardCapacity(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.shardCapacity = n
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(log logger.Logger) PoolOption {
	return func(p *Pool) {
		if log != nil {
			p.logger = log
		}
	}
}
