package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/roomsync/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When a request id is new", func() {
			seen := d.SeenAndRecord(ctx, dedupe.Key("room-1", "req-1"))

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same request id is redelivered", func() {
			d.SeenAndRecord(ctx, dedupe.Key("room-1", "req-1"))
			seen := d.SeenAndRecord(ctx, dedupe.Key("room-1", "req-1"))

			Convey("Then it is reported as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same request id is used in another room", func() {
			d.SeenAndRecord(ctx, dedupe.Key("room-1", "req-1"))
			So(d.SeenAndRecord(ctx, dedupe.Key("room-2", "req-1")), ShouldBeFalse)
		})

		Convey("When an id is only looked up", func() {
			d.SeenAndRecord(ctx, "a")

			Convey("Then lookups never record", func() {
				So(d.Seen(ctx, "a"), ShouldBeTrue)
				So(d.Seen(ctx, "b"), ShouldBeFalse)
				So(d.Seen(ctx, "b"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := 1; i <= 3; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("req-%d", i))
		}

		Convey("When one more id is recorded", func() {
			d.SeenAndRecord(ctx, "req-4")

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "req-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "req-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "req-1"), ShouldBeFalse)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("req-%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
		So(d.SeenAndRecord(ctx, "req-0"), ShouldBeTrue)
	})

	Convey("Given concurrent redeliveries of one request id", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "reset-1") {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one delivery is treated as new", func() {
			So(fresh, ShouldEqual, 1)
		})
	})
}
