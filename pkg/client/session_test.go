package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rosecast/internal/adapters/ws"
	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/registry"
	"github.com/okian/rosecast/internal/domain/session"
	"github.com/okian/rosecast/internal/domain/types"
	"github.com/okian/rosecast/pkg/client"
)

type server struct {
	reg *registry.Registry
	bus *bus.Bus
	srv *httptest.Server
	url string
}

func newServer(bufferSize int) *server {
	reg := registry.New()
	b := bus.New(reg, bus.WithBufferSize(bufferSize))
	h := ws.NewHandler(reg, session.New(reg, b))
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := httptest.NewServer(mux)
	return &server{reg: reg, bus: b, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (s *server) publish(topic string, points int) {
	_, err := s.bus.Publish(context.Background(), model.New(topic, &model.ScoreUpdate{
		ContestantID:   "c-1",
		ContestantName: "Ava",
		Points:         points,
		Reason:         "rose",
		Episode:        1,
	}))
	So(err, ShouldBeNil)
}

func (s *server) subscribedBy(topic, connID string) bool {
	for _, id := range s.reg.ResolveSubscribers(topic) {
		if id == connID {
			return true
		}
	}
	return false
}

type collector struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *collector) handle(e model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) points() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Score.Points)
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSessionDelivery(t *testing.T) {
	Convey("Given a connected session subscribed to a topic", t, func() {
		s := newServer(20)
		defer s.srv.Close()

		sess := client.New(s.url)
		defer func() { _ = sess.Close() }()
		So(sess.Quality(), ShouldEqual, types.QualityDisconnected)
		So(sess.Authenticate("u-1", "rosie"), ShouldBeNil)
		So(sess.Connect(context.Background()), ShouldBeNil)

		scores := &collector{}
		sub := sess.Subscribe("show-1").On(model.KindScoreUpdate, scores.handle)
		So(eventually(func() bool { return s.subscribedBy("show-1", sess.ConnectionID()) }), ShouldBeTrue)

		Convey("The session is bound to its user", func() {
			So(eventually(func() bool {
				c, err := s.reg.Get(sess.ConnectionID())
				return err == nil && c.UserID() == "u-1"
			}), ShouldBeTrue)
			So(sess.Quality(), ShouldEqual, types.QualityExcellent)
		})

		Convey("Published events reach the handler intact and advance the cursor", func() {
			s.publish("show-1", 7)
			So(eventually(func() bool { return scores.len() == 1 }), ShouldBeTrue)

			scores.mu.Lock()
			e := scores.events[0]
			scores.mu.Unlock()
			So(e.Seq, ShouldEqual, 1)
			So(e.Score.ContestantName, ShouldEqual, "Ava")
			So(e.Score.Points, ShouldEqual, 7)
			So(sess.LastSeen("show-1").Equal(e.Timestamp), ShouldBeTrue)
		})

		Convey("Unsubscribing the last handle stops delivery", func() {
			other := &collector{}
			second := sess.Subscribe("show-1").OnAny(other.handle)

			So(sub.Unsubscribe(), ShouldBeNil)
			s.publish("show-1", 1)
			So(eventually(func() bool { return other.len() >= 1 }), ShouldBeTrue)
			So(scores.len(), ShouldEqual, 0)

			So(second.Unsubscribe(), ShouldBeNil)
			So(eventually(func() bool { return !s.subscribedBy("show-1", sess.ConnectionID()) }), ShouldBeTrue)
			So(second.Unsubscribe(), ShouldBeNil)
		})

		Convey("Direct messages reach the direct handler", func() {
			direct := &collector{}
			sess.OnDirect(direct.handle)
			n, err := s.bus.SendToUser(context.Background(), "u-1", &model.FriendActivity{
				UserID: "u-2", Username: "lily", Action: model.ActionPredictionMade,
			})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(eventually(func() bool { return direct.len() == 1 }), ShouldBeTrue)
		})

		Convey("A closed session cannot reconnect", func() {
			So(sess.Close(), ShouldBeNil)
			So(sess.Connected(), ShouldBeFalse)
			So(sess.Connect(context.Background()), ShouldEqual, client.ErrClosed)
		})
	})
}

func TestSessionResume(t *testing.T) {
	Convey("Given a reconnecting session that saw one event", t, func() {
		s := newServer(20)
		defer s.srv.Close()

		sess := client.New(s.url, client.WithReconnect(200*time.Millisecond, time.Second))
		defer func() { _ = sess.Close() }()
		So(sess.Connect(context.Background()), ShouldBeNil)

		scores := &collector{}
		sess.Subscribe("show-1").On(model.KindScoreUpdate, scores.handle)
		So(eventually(func() bool { return s.subscribedBy("show-1", sess.ConnectionID()) }), ShouldBeTrue)
		s.publish("show-1", 1)
		So(eventually(func() bool { return scores.len() == 1 }), ShouldBeTrue)

		Convey("When the connection drops and three events are missed", func() {
			first := sess.ConnectionID()
			s.reg.Deregister(context.Background(), first)
			So(eventually(func() bool { return !sess.Connected() }), ShouldBeTrue)
			s.publish("show-1", 2)
			s.publish("show-1", 3)
			s.publish("show-1", 4)

			Convey("Then the missed events arrive in order before later live ones", func() {
				So(eventually(func() bool {
					id := sess.ConnectionID()
					return id != "" && id != first && s.subscribedBy("show-1", id)
				}), ShouldBeTrue)
				s.publish("show-1", 5)
				So(eventually(func() bool { return scores.len() == 5 }), ShouldBeTrue)
				So(scores.points(), ShouldResemble, []int{1, 2, 3, 4, 5})
			})
		})
	})

	Convey("Given a reconnecting session that subscribed but saw no event", t, func() {
		s := newServer(20)
		defer s.srv.Close()

		sess := client.New(s.url, client.WithReconnect(200*time.Millisecond, time.Second))
		defer func() { _ = sess.Close() }()

		var mu sync.Mutex
		var gaps []string
		sess.OnGap(func(topic string) {
			mu.Lock()
			defer mu.Unlock()
			gaps = append(gaps, topic)
		})
		So(sess.Connect(context.Background()), ShouldBeNil)

		scores := &collector{}
		sess.Subscribe("show-1").On(model.KindScoreUpdate, scores.handle)
		So(eventually(func() bool { return s.subscribedBy("show-1", sess.ConnectionID()) }), ShouldBeTrue)

		Convey("When the connection drops and three events are missed", func() {
			first := sess.ConnectionID()
			s.reg.Deregister(context.Background(), first)
			So(eventually(func() bool { return !sess.Connected() }), ShouldBeTrue)
			s.publish("show-1", 2)
			s.publish("show-1", 3)
			s.publish("show-1", 4)

			Convey("Then the outage events are replayed before the next live one", func() {
				So(eventually(func() bool {
					id := sess.ConnectionID()
					return id != "" && id != first && s.subscribedBy("show-1", id)
				}), ShouldBeTrue)
				s.publish("show-1", 5)
				So(eventually(func() bool { return scores.len() == 4 }), ShouldBeTrue)
				So(scores.points(), ShouldResemble, []int{2, 3, 4, 5})
				mu.Lock()
				So(gaps, ShouldBeEmpty)
				mu.Unlock()
			})
		})
	})

	Convey("Given a reconnecting session whose cursor fell out of the buffer", t, func() {
		s := newServer(2)
		defer s.srv.Close()

		sess := client.New(s.url, client.WithReconnect(200*time.Millisecond, time.Second))
		defer func() { _ = sess.Close() }()

		var mu sync.Mutex
		var gaps []string
		sess.OnGap(func(topic string) {
			mu.Lock()
			defer mu.Unlock()
			gaps = append(gaps, topic)
		})
		So(sess.Connect(context.Background()), ShouldBeNil)

		scores := &collector{}
		sess.Subscribe("show-1").On(model.KindScoreUpdate, scores.handle)
		So(eventually(func() bool { return s.subscribedBy("show-1", sess.ConnectionID()) }), ShouldBeTrue)
		s.publish("show-1", 1)
		So(eventually(func() bool { return scores.len() == 1 }), ShouldBeTrue)

		first := sess.ConnectionID()
		s.reg.Deregister(context.Background(), first)
		So(eventually(func() bool { return !sess.Connected() }), ShouldBeTrue)
		for i := 2; i <= 5; i++ {
			s.publish("show-1", i)
		}

		Convey("Then the gap is reported and live delivery continues", func() {
			So(eventually(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(gaps) == 1
			}), ShouldBeTrue)
			mu.Lock()
			So(gaps, ShouldResemble, []string{"show-1"})
			mu.Unlock()

			s.publish("show-1", 6)
			So(eventually(func() bool { return scores.len() == 2 }), ShouldBeTrue)
			So(scores.points(), ShouldResemble, []int{1, 6})
		})
	})
}
