package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/rosecast/internal/adapters/repository"
	"github.com/okian/rosecast/internal/domain/model"
)

func update(userID, name string, total int) *model.LeaderboardUpdate {
	return &model.LeaderboardUpdate{UserID: userID, Username: name, NewRank: 1, TotalPoints: total, WeeklyPoints: total / 2}
}

func TestMemoryStandings(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a standings store", t, func() {
		s := repository.NewMemoryStandings(repository.WithMaxLimit(10))

		convey.Convey("When users are applied to a topic", func() {
			_, err := s.Apply(ctx, "show-1", update("u-1", "ann", 40))
			convey.So(err, convey.ShouldBeNil)
			_, err = s.Apply(ctx, "show-1", update("u-2", "bo", 90))
			convey.So(err, convey.ShouldBeNil)
			st, err := s.Apply(ctx, "show-1", update("u-3", "cy", 40))
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then ranks order by points then user id", func() {
				convey.So(st.Rank, convey.ShouldEqual, 3)
				top, err := s.Top(ctx, "show-1", 5)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(top), convey.ShouldEqual, 3)
				convey.So(top[0].UserID, convey.ShouldEqual, "u-2")
				convey.So(top[1].UserID, convey.ShouldEqual, "u-1")
				convey.So(top[2].UserID, convey.ShouldEqual, "u-3")
				convey.So(s.Count(ctx, "show-1"), convey.ShouldEqual, 3)
			})

			convey.Convey("Then a later update moves the user", func() {
				st, err := s.Apply(ctx, "show-1", update("u-3", "cy", 120))
				convey.So(err, convey.ShouldBeNil)
				convey.So(st.Rank, convey.ShouldEqual, 1)

				leader, ok := s.Leader(ctx, "show-1")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(leader.Username, convey.ShouldEqual, "cy")
				convey.So(leader.TotalPoints, convey.ShouldEqual, 120)
			})

			convey.Convey("Then topics are independent", func() {
				_, ok := s.Leader(ctx, "show-2")
				convey.So(ok, convey.ShouldBeFalse)
				_, err := s.Rank(ctx, "show-2", "u-1")
				convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When asking for an invalid limit", func() {
			_, err := s.Top(ctx, "show-1", 0)
			convey.So(errors.Is(err, repository.ErrInvalidLimit), convey.ShouldBeTrue)
			_, err = s.Top(ctx, "show-1", 11)
			convey.So(errors.Is(err, repository.ErrInvalidLimit), convey.ShouldBeTrue)
		})

		convey.Convey("When applying an update without a user", func() {
			_, err := s.Apply(ctx, "show-1", &model.LeaderboardUpdate{})
			convey.So(errors.Is(err, repository.ErrInvalidUser), convey.ShouldBeTrue)
		})

		convey.Convey("When many writers and readers race", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = s.Apply(ctx, "show-1", update(fmt.Sprintf("u-%d", i), "n", i))
					_, _ = s.Top(ctx, "show-1", 10)
				}(i)
			}
			wg.Wait()

			convey.So(s.Count(ctx, "show-1"), convey.ShouldEqual, 20)
			leader, _ := s.Leader(ctx, "show-1")
			convey.So(leader.UserID, convey.ShouldEqual, "u-19")
		})
	})
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a lenient directory", t, func() {
		d := repository.NewMemoryDirectory()

		convey.Convey("When an unknown user presents", func() {
			u, err := d.Resolve(ctx, "u-1", "")

			convey.Convey("Then the user is registered under their id", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(u.Username, convey.ShouldEqual, "u-1")
			})
		})

		convey.Convey("When a known user presents without a username", func() {
			convey.So(d.Put(ctx, repository.User{ID: "u-1", Username: "ann"}), convey.ShouldBeNil)
			u, err := d.Resolve(ctx, "u-1", "")

			convey.Convey("Then the stored username is used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(u.Username, convey.ShouldEqual, "ann")
			})
		})

		convey.Convey("When the id is blank", func() {
			_, err := d.Resolve(ctx, " ", "ann")
			convey.So(errors.Is(err, repository.ErrInvalidUser), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a strict directory", t, func() {
		d := repository.NewMemoryDirectory(repository.WithStrict(true))
		_, err := d.Resolve(ctx, "stranger", "x")
		convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
	})
}
