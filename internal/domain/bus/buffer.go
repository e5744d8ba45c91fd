package bus

import (
	"time"

	"github.com/okian/rosecast/internal/domain/model"
)

// RecentBuffer retains the last N events of a topic, oldest evicted first.
// It is not safe for concurrent use; the owning topic log serialises access.
type RecentBuffer struct {
	ring        []model.Event
	start       int
	n           int
	evicted     uint64
	lastEvicted time.Time
}

// NewRecentBuffer creates a buffer holding up to size events.
func NewRecentBuffer(size int) *RecentBuffer {
	if size <= 0 {
		size = 1
	}
	return &RecentBuffer{ring: make([]model.Event, size)}
}

// Append stores e and reports whether an older event had to be evicted.
func (b *RecentBuffer) Append(e model.Event) bool { //nolint:gocritic // hugeParam: events travel by value
	size := len(b.ring)
	if b.n < size {
		b.ring[(b.start+b.n)%size] = e
		b.n++
		return false
	}
	b.lastEvicted = b.ring[b.start].Timestamp
	b.evicted++
	b.ring[b.start] = e
	b.start = (b.start + 1) % size
	return true
}

// Since returns retained events with a timestamp after since, oldest first.
// If an event newer than since has already been evicted the result would be
// incomplete and ErrGapDetected is returned instead.
func (b *RecentBuffer) Since(since time.Time) ([]model.Event, error) {
	if b.evicted > 0 && since.Before(b.lastEvicted) {
		return nil, ErrGapDetected
	}
	var out []model.Event
	size := len(b.ring)
	for i := 0; i < b.n; i++ {
		e := b.ring[(b.start+i)%size]
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Events returns every retained event, oldest first.
func (b *RecentBuffer) Events() []model.Event {
	out := make([]model.Event, 0, b.n)
	size := len(b.ring)
	for i := 0; i < b.n; i++ {
		out = append(out, b.ring[(b.start+i)%size])
	}
	return out
}

// Len returns the number of retained events.
func (b *RecentBuffer) Len() int { return b.n }

// Evicted returns how many events have been evicted so far.
func (b *RecentBuffer) Evicted() uint64 { return b.evicted }
