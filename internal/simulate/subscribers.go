package simulate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/client"
	"github.com/okian/rosecast/pkg/logger"
)

// subscriber is one websocket session recording sequenced deliveries.
type subscriber struct {
	id      int
	session *client.Session

	mu       sync.Mutex
	received map[string][]model.Event

	gaps  atomic.Int64
	lossy atomic.Int64
}

func (s *subscriber) record(e model.Event) { //nolint:gocritic // hugeParam: events travel by value
	if e.Seq == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[e.Topic] = append(s.received[e.Topic], e)
}

func (s *subscriber) snapshot() map[string][]model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.Event, len(s.received))
	for topic, events := range s.received {
		out[topic] = append([]model.Event(nil), events...)
	}
	return out
}

func (s *subscriber) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received[topic])
}

// wsURL maps an http(s) base URL to the websocket endpoint.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

// openSubscribers connects cfg.Subscribers sessions concurrently, each
// subscribed to every topic.
func openSubscribers(ctx context.Context, cfg *Config, topics []string) ([]*subscriber, error) {
	subs := make([]*subscriber, cfg.Subscribers)
	url := wsURL(cfg.BaseURL)

	g, gctx := errgroup.WithContext(ctx)
	for i := range subs {
		g.Go(func() error {
			s := &subscriber{
				id:       i,
				received: make(map[string][]model.Event),
				session:  client.New(url, client.WithLogger(logger.Get().Named(fmt.Sprintf("subscriber-%d", i)))),
			}
			s.session.OnGap(func(string) { s.gaps.Add(1) })
			s.session.OnLossy(func() { s.lossy.Add(1) })
			if err := s.session.Authenticate(fmt.Sprintf("sim-%d", i), fmt.Sprintf("simulator%d", i)); err != nil {
				return err
			}
			// Declared before connecting so the greeting carries them all.
			for _, topic := range topics {
				s.session.Subscribe(topic).OnAny(s.record)
			}
			if err := s.session.Connect(gctx); err != nil {
				return fmt.Errorf("subscriber %d: %w", i, err)
			}
			subs[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeSubscribers(subs)
		return nil, err
	}
	return subs, nil
}

func closeSubscribers(subs []*subscriber) {
	for _, s := range subs {
		if s != nil {
			_ = s.session.Close()
		}
	}
}
