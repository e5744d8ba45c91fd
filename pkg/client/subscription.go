package client

import (
	"sync"

	"github.com/okian/rosecast/internal/domain/model"
)

// Handler receives a delivered event.
type Handler func(e model.Event)

// Subscription is a handle on one topic. Handlers run on the session's read
// goroutine in delivery order and must not block.
type Subscription struct {
	session *Session
	id      uint64
	topic   string

	mu       sync.Mutex
	handlers map[model.Kind][]Handler
	all      []Handler
	closed   bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// On registers h for events of kind. It returns the subscription for chaining.
func (s *Subscription) On(kind model.Kind, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && h != nil {
		s.handlers[kind] = append(s.handlers[kind], h)
	}
	return s
}

// OnAny registers h for every event on the topic.
func (s *Subscription) OnAny(h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && h != nil {
		s.all = append(s.all, h)
	}
	return s
}

// Unsubscribe drops every handler of this handle. The topic is unsubscribed
// on the server once no handle remains. Calling it twice is a no-op.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handlers = nil
	s.all = nil
	s.mu.Unlock()
	return s.session.release(s)
}

func (s *Subscription) deliver(e model.Event) { //nolint:gocritic // hugeParam: events travel by value
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hs := make([]Handler, 0, len(s.all)+len(s.handlers[e.Kind]))
	hs = append(hs, s.handlers[e.Kind]...)
	hs = append(hs, s.all...)
	s.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}
