package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/okian/rosecast/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func stats(topic string, seq uint64) model.Event {
	e := model.New(topic, &model.LiveStats{ViewersCount: int(seq)})
	e.Seq = seq
	return e
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue(WithCapacity(2))

		Convey("When it is filled", func() {
			So(q.Enqueue(ctx, stats("s", 1)), ShouldBeTrue)
			So(q.Enqueue(ctx, stats("s", 2)), ShouldBeTrue)

			Convey("Then further events are refused", func() {
				So(q.Enqueue(ctx, stats("s", 3)), ShouldBeFalse)
				So(q.Len(), ShouldEqual, 2)
				So(q.Capacity(), ShouldEqual, 2)
			})

			Convey("Then items come out in order with an enqueue time", func() {
				first := <-q.Dequeue()
				So(first.Event.Seq, ShouldEqual, uint64(1))
				So(first.EnqueuedAt.IsZero(), ShouldBeFalse)
				So((<-q.Dequeue()).Event.Seq, ShouldEqual, uint64(2))
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(q.Enqueue(cctx, stats("s", 1)), ShouldBeFalse)
		})

		Convey("When it is closed", func() {
			So(q.Enqueue(ctx, stats("s", 1)), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueue fails but queued items drain", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, stats("s", 2)), ShouldBeFalse)
				item, ok := <-q.Dequeue()
				So(ok, ShouldBeTrue)
				So(item.Event.Seq, ShouldEqual, uint64(1))
				_, ok = <-q.Dequeue()
				So(ok, ShouldBeFalse)
			})
		})
	})

	Convey("Given concurrent producers", t, func() {
		q := NewInMemoryQueue(WithCapacity(1000))
		var wg sync.WaitGroup
		for g := 0; g < 10; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					q.Enqueue(ctx, stats("s", uint64(i)))
				}
			}()
		}
		wg.Wait()
		So(q.Len(), ShouldEqual, 500)
	})
}
