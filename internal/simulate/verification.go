package simulate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/okian/rosecast/internal/domain/model"
)

// ErrOrdering is returned when deliveries break per-topic ordering.
var ErrOrdering = errors.New("ordering violated")

// VerifyOrdering checks that every stream has strictly increasing sequence
// numbers and timestamps, and that all streams of a topic delivered the same
// events in the same order. streams maps a subscriber name to its per-topic
// deliveries.
func VerifyOrdering(streams map[string]map[string][]model.Event) error {
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	reference := make(map[string]string)
	for _, name := range names {
		for topic, events := range streams[name] {
			if err := verifyStream(events); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s on %s: %w", ErrOrdering, name, topic, err))
				continue
			}
			ref, ok := reference[topic]
			if !ok {
				reference[topic] = name
				continue
			}
			if err := sameOrder(streams[ref][topic], events); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s and %s disagree on %s: %w", ErrOrdering, ref, name, topic, err))
			}
		}
	}
	return errors.Join(errs...)
}

func verifyStream(events []model.Event) error {
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if cur.Seq <= prev.Seq {
			return fmt.Errorf("seq %d after %d", cur.Seq, prev.Seq)
		}
		if !cur.Timestamp.After(prev.Timestamp) {
			return fmt.Errorf("timestamp of seq %d not after seq %d", cur.Seq, prev.Seq)
		}
	}
	return nil
}

func sameOrder(a, b []model.Event) error {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i].ID != b[i].ID || a[i].Seq != b[i].Seq {
			return fmt.Errorf("position %d: %s#%d vs %s#%d", i, a[i].ID, a[i].Seq, b[i].ID, b[i].Seq)
		}
	}
	if len(a) != len(b) {
		return fmt.Errorf("delivered %d vs %d events", len(a), len(b))
	}
	return nil
}
