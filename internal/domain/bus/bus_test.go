package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rosecast/internal/domain/bus"
	"github.com/okian/rosecast/internal/domain/dedupe"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/internal/domain/registry"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Enqueue(e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Replay(events []model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) Hold()          {}
func (r *recorder) Release() error { return nil }
func (r *recorder) Lossy() bool    { return false }
func (r *recorder) ClearLossy()    {}
func (r *recorder) Close() error   { return nil }

func (r *recorder) kinds() []model.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) seqs(kind model.Kind) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint64
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e.Seq)
		}
	}
	return out
}

func scoreEvent(topic string, points int) model.Event {
	return model.New(topic, &model.ScoreUpdate{
		ContestantID: "c-1", ContestantName: "Ann", Points: points, Reason: "rose", Episode: 1,
	})
}

func TestPublishOrdering(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bus on a frozen clock with two subscribers", t, func() {
		clock := clockwork.NewFakeClock()
		reg := registry.New(registry.WithClock(clock))
		b := bus.New(reg, bus.WithClock(clock), bus.WithBufferSize(100))
		out, other := &recorder{}, &recorder{}
		c := reg.Register(ctx, out)
		So(reg.Subscribe(ctx, c.ID(), "show-1"), ShouldBeNil)
		c2 := reg.Register(ctx, other)
		So(reg.Subscribe(ctx, c2.ID(), "show-1"), ShouldBeNil)

		Convey("When several producers publish to the topic concurrently", func() {
			var wg sync.WaitGroup
			for p := 0; p < 4; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						_, _ = b.Publish(ctx, scoreEvent("show-1", 1))
					}
				}()
			}
			wg.Wait()

			Convey("Then the subscriber sees one gapless increasing sequence", func() {
				seqs := out.seqs(model.KindScoreUpdate)
				So(seqs, ShouldHaveLength, 100)
				for i, s := range seqs {
					So(s, ShouldEqual, uint64(i+1))
				}
			})

			Convey("Then both subscribers see the events in the same order", func() {
				So(other.seqs(model.KindScoreUpdate), ShouldResemble, out.seqs(model.KindScoreUpdate))
				out.mu.Lock()
				other.mu.Lock()
				for i := range out.events {
					So(other.events[i].ID, ShouldEqual, out.events[i].ID)
				}
				other.mu.Unlock()
				out.mu.Unlock()
			})

			Convey("Then timestamps strictly increase even though the clock stood still", func() {
				out.mu.Lock()
				defer out.mu.Unlock()
				for i := 1; i < len(out.events); i++ {
					So(out.events[i].Timestamp.After(out.events[i-1].Timestamp), ShouldBeTrue)
				}
			})
		})

		Convey("When a topic nobody watches is published to", func() {
			e, err := b.Publish(ctx, scoreEvent("show-2", 5))

			Convey("Then it is sequenced but not delivered", func() {
				So(err, ShouldBeNil)
				So(e.Seq, ShouldEqual, uint64(1))
				So(e.ID, ShouldNotBeEmpty)
				So(out.kinds(), ShouldBeEmpty)
			})
		})
	})
}

func TestPublishRejections(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bus with a deduper", t, func() {
		reg := registry.New()
		b := bus.New(reg, bus.WithDeduper(dedupe.NewInMemoryDeduper()))

		Convey("When an invalid event is published", func() {
			_, err := b.Publish(ctx, model.New("show-1", &model.ScoreUpdate{}))

			Convey("Then it is rejected and nothing is sequenced", func() {
				So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
				So(b.Topics(), ShouldBeEmpty)
			})
		})

		Convey("When the same producer id is published twice", func() {
			e := scoreEvent("show-1", 3)
			e.ID = "evt-1"
			_, err := b.Publish(ctx, e)
			So(err, ShouldBeNil)
			_, err = b.Publish(ctx, e)

			Convey("Then the second publish is a duplicate", func() {
				So(errors.Is(err, bus.ErrDuplicateEvent), ShouldBeTrue)
				So(b.Recent("show-1", 0), ShouldHaveLength, 1)
			})
		})
	})
}

func TestCatchUp(t *testing.T) {
	ctx := context.Background()

	Convey("Given a topic with five published events", t, func() {
		clock := clockwork.NewFakeClock()
		reg := registry.New(registry.WithClock(clock))
		b := bus.New(reg, bus.WithClock(clock), bus.WithBufferSize(10))
		var published []model.Event
		for i := 1; i <= 5; i++ {
			clock.Advance(time.Second)
			e, err := b.Publish(ctx, scoreEvent("show-1", i))
			So(err, ShouldBeNil)
			published = append(published, e)
		}

		Convey("When a client that last saw e2 subscribes from that point", func() {
			out := &recorder{}
			c := reg.Register(ctx, out)
			events, err := b.SubscribeFrom(ctx, c.ID(), "show-1", published[1].Timestamp)

			Convey("Then e3 through e5 are replayed in order and it is subscribed", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 3)
				So(out.seqs(model.KindScoreUpdate), ShouldResemble, []uint64{3, 4, 5})
				So(c.Subscribed("show-1"), ShouldBeTrue)
			})

			Convey("Then the next live event follows without a hole", func() {
				_, err := b.Publish(ctx, scoreEvent("show-1", 6))
				So(err, ShouldBeNil)
				So(out.seqs(model.KindScoreUpdate), ShouldResemble, []uint64{3, 4, 5, 6})
			})
		})

		Convey("When a client that has seen nothing subscribes from the zero cursor", func() {
			out := &recorder{}
			c := reg.Register(ctx, out)
			events, err := b.SubscribeFrom(ctx, c.ID(), "show-1", time.Time{})

			Convey("Then everything retained is replayed", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 5)
				So(out.seqs(model.KindScoreUpdate), ShouldResemble, []uint64{1, 2, 3, 4, 5})
			})
		})

		Convey("When a fresh subscriber joins", func() {
			out := &recorder{}
			c := reg.Register(ctx, out)
			head, err := b.Subscribe(ctx, c.ID(), "show-1")

			Convey("Then it learns the head and nothing is replayed", func() {
				So(err, ShouldBeNil)
				So(head.Equal(published[4].Timestamp), ShouldBeTrue)
				So(out.seqs(model.KindScoreUpdate), ShouldBeEmpty)
			})
		})

		Convey("When catching up from the newest timestamp", func() {
			events, err := b.CatchUp("show-1", published[4].Timestamp)
			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When catching up on an unknown topic", func() {
			events, err := b.CatchUp("show-9", time.Time{})
			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})
	})

	Convey("Given a topic whose buffer has evicted history", t, func() {
		clock := clockwork.NewFakeClock()
		reg := registry.New(registry.WithClock(clock))
		b := bus.New(reg, bus.WithClock(clock), bus.WithBufferSize(3))
		var published []model.Event
		for i := 1; i <= 5; i++ {
			clock.Advance(time.Second)
			e, _ := b.Publish(ctx, scoreEvent("show-1", i))
			published = append(published, e)
		}

		Convey("When the client's cursor predates the evicted events", func() {
			out := &recorder{}
			c := reg.Register(ctx, out)
			_, err := b.SubscribeFrom(ctx, c.ID(), "show-1", published[0].Timestamp)

			Convey("Then a gap is reported and the live subscription still starts", func() {
				So(errors.Is(err, bus.ErrGapDetected), ShouldBeTrue)
				var gap *bus.GapError
				So(errors.As(err, &gap), ShouldBeTrue)
				So(gap.Topic, ShouldEqual, "show-1")
				So(gap.Head.Equal(published[4].Timestamp), ShouldBeTrue)
				So(c.Subscribed("show-1"), ShouldBeTrue)
				So(out.kinds(), ShouldBeEmpty)
			})
		})

		Convey("When the client saw the last evicted event", func() {
			events, err := b.CatchUp("show-1", published[1].Timestamp)

			Convey("Then the retained tail is enough", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 3)
				So(events[0].Seq, ShouldEqual, uint64(3))
			})
		})

		Convey("Then stats show the eviction", func() {
			st := b.Stats()
			So(st, ShouldHaveLength, 1)
			So(st[0].Seq, ShouldEqual, uint64(5))
			So(st[0].Buffered, ShouldEqual, 3)
			So(st[0].Evicted, ShouldEqual, uint64(2))
			So(b.Recent("show-1", 2), ShouldHaveLength, 2)
			So(b.Recent("show-1", 2)[1].Seq, ShouldEqual, uint64(5))
		})
	})
}

func TestLiveStats(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bus with activity on a watched and an unwatched topic", t, func() {
		reg := registry.New()
		b := bus.New(reg)
		out := &recorder{}
		c := reg.Register(ctx, out)
		So(reg.Authenticate(ctx, c.ID(), "u-1", "ann"), ShouldBeNil)
		_, err := b.Subscribe(ctx, c.ID(), "show-1")
		So(err, ShouldBeNil)
		_, err = b.Publish(ctx, scoreEvent("show-1", 10))
		So(err, ShouldBeNil)
		_, err = b.Publish(ctx, scoreEvent("show-2", 15))
		So(err, ShouldBeNil)

		Convey("Then subscribing delivered a snapshot first", func() {
			So(out.kinds()[0], ShouldEqual, model.KindLiveStats)
			out.mu.Lock()
			So(out.events[0].Seq, ShouldEqual, uint64(0))
			out.mu.Unlock()
		})

		Convey("When stats are synthesised", func() {
			events, err := b.SynthesizeLiveStats(ctx)

			Convey("Then only the watched topic gets one", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 1)
				So(events[0].Topic, ShouldEqual, "show-1")
				So(events[0].Stats.ViewersCount, ShouldEqual, 1)
				So(events[0].Stats.TotalPoints, ShouldEqual, 10)
				So(events[0].Stats.RecentEvents, ShouldEqual, 1)
			})

			Convey("Then they are delivered unsequenced and not retained for catch-up", func() {
				So(out.seqs(model.KindLiveStats), ShouldResemble, []uint64{0, 0})
				So(b.Recent("show-1", 0), ShouldHaveLength, 1)
			})

			Convey("Then the next score update continues the topic sequence", func() {
				e, err := b.Publish(ctx, scoreEvent("show-1", 2))
				So(err, ShouldBeNil)
				So(e.Seq, ShouldEqual, uint64(2))
				So(out.seqs(model.KindScoreUpdate), ShouldResemble, []uint64{1, 2})
			})
		})

		Convey("When the only viewer leaves", func() {
			So(b.Unsubscribe(ctx, c.ID(), "show-1"), ShouldBeNil)
			events, err := b.SynthesizeLiveStats(ctx)

			Convey("Then nothing is synthesised", func() {
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a bus on a frozen clock", t, func() {
		clock := clockwork.NewFakeClock()
		reg := registry.New(registry.WithClock(clock))
		b := bus.New(reg, bus.WithClock(clock))
		out := &recorder{}
		c := reg.Register(ctx, out)

		Convey("When a connection subscribes to and leaves a topic nobody has published to", func() {
			head, err := b.Subscribe(ctx, c.ID(), "show-9")
			So(err, ShouldBeNil)
			So(head.IsZero(), ShouldBeTrue)
			So(b.Unsubscribe(ctx, c.ID(), "show-9"), ShouldBeNil)

			Convey("Then neither the bus nor the registry keeps the topic", func() {
				So(b.Topics(), ShouldBeEmpty)
				So(reg.Topics(), ShouldBeEmpty)
			})
		})

		Convey("When a LiveStats event is published between score updates", func() {
			_, err := b.Subscribe(ctx, c.ID(), "show-1")
			So(err, ShouldBeNil)
			first, err := b.Publish(ctx, scoreEvent("show-1", 1))
			So(err, ShouldBeNil)
			clock.Advance(time.Hour)
			stats, err := b.Publish(ctx, model.New("show-1", &model.LiveStats{ViewersCount: 1}))
			So(err, ShouldBeNil)
			second, err := b.Publish(ctx, model.New("show-1", &model.ScoreUpdate{
				ContestantID: "c-1", ContestantName: "Ann", Points: 2, Reason: "rose", Episode: 1,
			}))
			So(err, ShouldBeNil)

			Convey("Then it carries no sequence number and the next update is contiguous", func() {
				So(stats.Seq, ShouldEqual, uint64(0))
				So(stats.Timestamp.Equal(clock.Now().UTC()), ShouldBeTrue)
				So(second.Seq, ShouldEqual, first.Seq+1)
				So(b.Recent("show-1", 0), ShouldHaveLength, 2)
			})
		})
	})
}

func TestPublishTimestamps(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bus whose clock reads 2030", t, func() {
		clock := clockwork.NewFakeClockAt(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
		reg := registry.New(registry.WithClock(clock))
		b := bus.New(reg, bus.WithClock(clock))
		out := &recorder{}
		c := reg.Register(ctx, out)
		So(reg.Subscribe(ctx, c.ID(), "show-1"), ShouldBeNil)
		produced := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

		Convey("When a producer publishes with its own timestamp", func() {
			e := scoreEvent("show-1", 1)
			e.Timestamp = produced
			got, err := b.Publish(ctx, e)

			Convey("Then the timestamp arrives unchanged", func() {
				So(err, ShouldBeNil)
				So(got.Timestamp.Equal(produced), ShouldBeTrue)
				out.mu.Lock()
				So(out.events[0].Timestamp.Equal(produced), ShouldBeTrue)
				out.mu.Unlock()
			})

			Convey("When a later event carries an older timestamp", func() {
				stale := scoreEvent("show-1", 2)
				stale.Timestamp = produced.Add(-time.Minute)
				got, err := b.Publish(ctx, stale)

				Convey("Then it is moved just past the previous event", func() {
					So(err, ShouldBeNil)
					So(got.Timestamp.Equal(produced.Add(time.Nanosecond)), ShouldBeTrue)
				})
			})
		})

		Convey("When a producer publishes without a timestamp", func() {
			got, err := b.Publish(ctx, scoreEvent("show-1", 1))

			Convey("Then the bus clock stamps it", func() {
				So(err, ShouldBeNil)
				So(got.Timestamp.Equal(clock.Now()), ShouldBeTrue)
			})
		})
	})
}

func TestSendToUser(t *testing.T) {
	ctx := context.Background()

	Convey("Given a user with two connections", t, func() {
		reg := registry.New()
		b := bus.New(reg)
		a, z := &recorder{}, &recorder{}
		c1 := reg.Register(ctx, a)
		c2 := reg.Register(ctx, z)
		So(reg.Authenticate(ctx, c1.ID(), "u-1", "ann"), ShouldBeNil)
		So(reg.Authenticate(ctx, c2.ID(), "u-1", "ann"), ShouldBeNil)

		Convey("When friend activity is sent to the user", func() {
			n, err := b.SendToUser(ctx, "u-1", &model.FriendActivity{
				UserID: "u-2", Username: "bo", Action: model.ActionTeamUpdate,
			})

			Convey("Then both connections get it unsequenced", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				So(a.seqs(model.KindFriendActivity), ShouldResemble, []uint64{0})
				So(z.kinds(), ShouldResemble, []model.Kind{model.KindFriendActivity})
			})
		})

		Convey("When the user has no connections", func() {
			n, err := b.SendToUser(ctx, "u-9", &model.FriendActivity{
				UserID: "u-2", Username: "bo", Action: model.ActionTeamUpdate,
			})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}
