package scheduler_test

import (
	"testing"
	"time"

	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/scheduler"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler on a fake clock", t, func() {
		start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		c := clock.NewFake(start)
		s := scheduler.New(scheduler.WithClock(c))
		var ran []string
		task := func(name string) scheduler.Task {
			return func() { ran = append(ran, name) }
		}

		Convey("When one task is enqueued on an idle scope", func() {
			So(s.Enqueue("room-1", task("a"), time.Second), ShouldBeTrue)
			c.Advance(0)

			Convey("Then it runs without waiting", func() {
				So(ran, ShouldResemble, []string{"a"})
			})
		})

		Convey("When several tasks share a scope", func() {
			s.Enqueue("room-1", task("a"), time.Second)
			s.Enqueue("room-1", task("b"), time.Second)
			s.Enqueue("room-1", task("c"), time.Second)

			c.Advance(0)
			So(ran, ShouldResemble, []string{"a"})
			So(s.Pending("room-1"), ShouldEqual, 2)

			c.Advance(999 * time.Millisecond)
			So(ran, ShouldResemble, []string{"a"})

			c.Advance(time.Millisecond)
			So(ran, ShouldResemble, []string{"a", "b"})

			c.Advance(time.Second)
			Convey("Then they run in order at the minimum interval", func() {
				So(ran, ShouldResemble, []string{"a", "b", "c"})
			})
		})

		Convey("When two scopes are busy", func() {
			s.Enqueue("room-1", task("1a"), time.Second)
			s.Enqueue("room-1", task("1b"), time.Second)
			s.Enqueue("room-2", task("2a"), time.Second)
			c.Advance(0)

			Convey("Then one scope does not delay the other", func() {
				So(ran, ShouldContain, "1a")
				So(ran, ShouldContain, "2a")
				So(ran, ShouldNotContain, "1b")
			})
		})

		Convey("When a task follows shortly after an idle run", func() {
			s.Enqueue("u1", task("first"), 5*time.Second)
			c.Advance(0)
			c.Advance(2 * time.Second)
			s.Enqueue("u1", task("second"), 5*time.Second)
			c.Advance(2 * time.Second)
			So(ran, ShouldResemble, []string{"first"})
			c.Advance(time.Second)

			Convey("Then it still honours the interval from the last run", func() {
				So(ran, ShouldResemble, []string{"first", "second"})
			})
		})

		Convey("When a scope is cancelled", func() {
			s.Enqueue("room-1", task("a"), time.Second)
			s.Enqueue("room-1", task("b"), time.Second)
			c.Advance(0)
			s.Cancel("room-1")
			c.Advance(time.Minute)

			So(ran, ShouldResemble, []string{"a"})
			So(s.Pending("room-1"), ShouldEqual, 0)
		})

		Convey("When the scheduler is stopped", func() {
			s.Enqueue("room-1", task("a"), time.Second)
			s.Stop()
			c.Advance(time.Minute)

			So(ran, ShouldBeEmpty)
			So(s.Enqueue("room-1", task("b"), time.Second), ShouldBeFalse)
		})

		Convey("When a task panics", func() {
			s.Enqueue("room-1", func() { panic("boom") }, time.Millisecond)
			s.Enqueue("room-1", task("after"), time.Millisecond)

			So(func() { c.Advance(time.Second) }, ShouldNotPanic)
			So(ran, ShouldResemble, []string{"after"})
		})
	})
}
