package queue

import "github.com/okian/rosecast/pkg/logger"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// ChannelOption configures a delivery Channel.
type ChannelOption func(*Channel)

// WithChannelCapacity bounds the number of queued events.
func WithChannelCapacity(capacity int) ChannelOption {
	return func(c *Channel) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// WithMaxBatch caps how many events one flush step takes from the queue.
func WithMaxBatch(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithChannelLogger sets the channel logger.
func WithChannelLogger(log logger.Logger) ChannelOption {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}
