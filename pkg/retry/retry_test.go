package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/roomsync/pkg/retry"
	. "github.com/smartystreets/goconvey/convey"
)

var errBusy = errors.New("busy")
var errDenied = errors.New("denied")

func TestDo(t *testing.T) {
	fast := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 10 * time.Millisecond}
	onlyBusy := func(err error) bool { return errors.Is(err, errBusy) }

	Convey("Given a fast three-attempt policy", t, func() {
		ctx := context.Background()

		Convey("When the operation succeeds on the second attempt", func() {
			calls := 0
			err := retry.Do(ctx, fast, func(context.Context) error {
				calls++
				if calls < 2 {
					return errBusy
				}
				return nil
			}, onlyBusy)

			So(err, ShouldBeNil)
			So(calls, ShouldEqual, 2)
		})

		Convey("When the operation keeps failing", func() {
			calls := 0
			err := retry.Do(ctx, fast, func(context.Context) error {
				calls++
				return errBusy
			}, onlyBusy)

			Convey("Then it stops after three attempts with the last error", func() {
				So(calls, ShouldEqual, 3)
				So(errors.Is(err, errBusy), ShouldBeTrue)
			})
		})

		Convey("When the error is not retryable", func() {
			calls := 0
			err := retry.Do(ctx, fast, func(context.Context) error {
				calls++
				return errDenied
			}, onlyBusy)

			Convey("Then it gives up at once", func() {
				So(calls, ShouldEqual, 1)
				So(errors.Is(err, errDenied), ShouldBeTrue)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			calls := 0
			err := retry.Do(cctx, retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, Factor: 2}, func(context.Context) error {
				calls++
				return errBusy
			}, nil)

			So(err, ShouldNotBeNil)
			So(calls, ShouldBeLessThanOrEqualTo, 1)
		})
	})
}
