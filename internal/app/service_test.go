package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/rosecast/internal/app"
	"github.com/okian/rosecast/internal/config"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

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

func (r *recorder) count(kind model.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func score(topic, id string) model.Event {
	e := model.New(topic, &model.ScoreUpdate{
		ContestantID:   "c-1",
		ContestantName: "Ava",
		Points:         10,
		Reason:         "rose ceremony",
		Episode:        1,
	})
	e.ID = id
	return e
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Bus(), ShouldNotBeNil)
			So(svc.Registry(), ShouldNotBeNil)
			So(svc.Sessions(), ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})

	Convey("Given a new service built from configuration", t, func() {
		cfg := &config.Config{
			RecentBufferSize:    5,
			OutboxCapacity:      50,
			IngestQueueSize:     100,
			IngestShards:        2,
			DedupeSize:          1000,
			LiveStatsIntervalMS: 1000,
			SweepIntervalMS:     1000,
			IdleTimeoutMS:       60_000,
			ControlRatePerSec:   5,
			ControlBurst:        5,
			MaxRecentLimit:      50,
		}
		svc := service.New(service.WithConfig(cfg))

		Convey("Then the ingest pool reflects the configured shards", func() {
			ingest := svc.GetStats()["ingest"].(map[string]any)
			So(ingest["shards"], ShouldEqual, 2)
			So(ingest["capacity"], ShouldEqual, 200)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithIngestShards(2))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When starting the service", func() {
			err := svc.Start(ctx)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, true)
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("When stopping a started service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("And it cannot be started again", func() {
				So(svc.Start(ctx), ShouldEqual, service.ErrStopped)
			})

			Convey("And submissions are refused", func() {
				So(svc.Submit(ctx, score("show-1", "late")), ShouldNotBeNil)
			})
		})

		Convey("When stopping a service that never started", func() {
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestService_Ingest(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithIngestShards(2), service.WithBufferSize(3))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When events are submitted", func() {
			for _, id := range []string{"e1", "e2", "e3", "e4"} {
				So(svc.Submit(ctx, score("show-1", id)), ShouldBeNil)
			}

			Convey("Then they are sequenced into the recent buffer", func() {
				So(eventually(func() bool { return len(svc.Recent("show-1", 10)) == 3 }), ShouldBeTrue)
				recent := svc.Recent("show-1", 10)
				So(recent[0].Seq, ShouldEqual, 2)
				So(recent[2].Seq, ShouldEqual, 4)
			})

			Convey("And their ids are remembered for deduplication", func() {
				So(eventually(func() bool { return svc.Seen(ctx, "e4") }), ShouldBeTrue)
				So(svc.Seen(ctx, "unknown"), ShouldBeFalse)
			})

			Convey("And topic stats are reported", func() {
				So(eventually(func() bool {
					for _, st := range svc.TopicStats() {
						if st.Topic == "show-1" && st.Seq == 4 {
							return true
						}
					}
					return false
				}), ShouldBeTrue)
			})
		})

		Convey("When a leaderboard update is published in-process", func() {
			_, err := svc.Publish(ctx, model.New("show-2", &model.LeaderboardUpdate{
				UserID:      "u-1",
				Username:    "rosie",
				NewRank:     1,
				OldRank:     2,
				TotalPoints: 40,
			}))
			So(err, ShouldBeNil)

			Convey("Then the standings reflect it", func() {
				top, err := svc.Top(ctx, "show-2", 5)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 1)
				So(top[0].Username, ShouldEqual, "rosie")

				st, err := svc.Rank(ctx, "show-2", "u-1")
				So(err, ShouldBeNil)
				So(st.Rank, ShouldEqual, 1)
			})
		})
	})
}

func TestService_PeriodicJobs(t *testing.T) {
	Convey("Given a started service on a fake clock", t, func() {
		clock := clockwork.NewFakeClock()
		svc := service.New(
			service.WithClock(clock),
			service.WithIngestShards(1),
			service.WithLiveStatsInterval(time.Second),
			service.WithSweep(10*time.Second, time.Minute),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		So(clock.BlockUntilContext(ctx, 2), ShouldBeNil)

		out := &recorder{}
		conn := svc.Registry().Register(ctx, out)
		_, err := svc.Bus().Subscribe(ctx, conn.ID(), "show-1")
		So(err, ShouldBeNil)
		So(out.count(model.KindLiveStats), ShouldEqual, 1)

		Convey("When the live stats interval elapses", func() {
			clock.Advance(time.Second)

			Convey("Then a LiveStats event is delivered to the subscriber", func() {
				So(eventually(func() bool { return out.count(model.KindLiveStats) >= 2 }), ShouldBeTrue)
			})
		})

		Convey("When the connection stays silent past the idle timeout", func() {
			clock.Advance(2 * time.Minute)

			Convey("Then the sweeper deregisters it", func() {
				So(eventually(func() bool { return svc.Registry().Stats().Total == 0 }), ShouldBeTrue)
			})
		})
	})
}

func TestService_Routes(t *testing.T) {
	Convey("Given the service routes behind a test server", t, func() {
		svc := service.New(service.WithIngestShards(1))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := httptest.NewServer(svc.Routes(ctx))
		defer srv.Close()

		Convey("When an event is posted", func() {
			body, err := json.Marshal(score("show-9", "http-1"))
			So(err, ShouldBeNil)
			resp, err := http.Post(srv.URL+"/events", "application/json", bytes.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is accepted and becomes visible in the recent list", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusAccepted)
				So(eventually(func() bool {
					r, err := http.Get(srv.URL + "/topics/show-9/recent")
					if err != nil {
						return false
					}
					defer r.Body.Close()
					var got struct {
						Events []model.Event `json:"events"`
					}
					if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
						return false
					}
					return len(got.Events) == 1 && got.Events[0].ID == "http-1"
				}), ShouldBeTrue)
			})
		})

		Convey("When the API docs are requested", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the OpenAPI document is served", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When stats are requested", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then they are served", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}
