package bus

import (
	"errors"
	"fmt"
	"time"
)

// ErrGapDetected means history older than the client's cursor has been
// evicted, so the client must refresh its view from scratch. It is not a
// fault.
var ErrGapDetected = errors.New("gap detected")

// GapError names the topic a catch-up could not be satisfied for. Head is
// the timestamp live delivery continues after.
type GapError struct {
	Topic string
	Since time.Time
	Head  time.Time
}

func (e *GapError) Error() string {
	return fmt.Sprintf("gap detected: topic %s since %s", e.Topic, e.Since.Format(time.RFC3339Nano))
}

// Unwrap lets errors.Is match ErrGapDetected.
func (e *GapError) Unwrap() error { return ErrGapDetected }

// ErrDuplicateEvent means an event with the same producer id was already
// published.
var ErrDuplicateEvent = errors.New("duplicate event")
