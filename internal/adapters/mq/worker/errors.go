package worker

import "errors"

// ErrQueueFull is returned when the topic's shard cannot take more events.
var ErrQueueFull = errors.New("ingest queue full")
