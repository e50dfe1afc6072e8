package reconcile_test

import (
	"testing"
	"time"

	"github.com/okian/roomsync/internal/client/reconcile"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

func roomAt(version int64, slots ...string) *model.Room {
	return &model.Room{
		ID:            "r1",
		Status:        model.StatusClueCollection,
		StatusVersion: version,
		Options:       model.Options{ResolveMode: model.ResolveSortSubmit},
		Order:         &model.Order{Proposal: model.Proposal(slots), Total: 3},
	}
}

func TestReconcile(t *testing.T) {
	Convey("Given an authoritative proposal with slot 0 taken", t, func() {
		auth := roomAt(3, "a")

		Convey("When speculative entries are merged", func() {
			res := reconcile.Reconcile(auth, []reconcile.Entry{
				{ParticipantID: "b", Index: 1},
				{ParticipantID: "a", Index: 2},
				{ParticipantID: "c", Index: 1},
			})

			Convey("Then confirmed entries drop and the rest are drawn where free", func() {
				So(res.Surviving, ShouldResemble, []reconcile.Entry{
					{ParticipantID: "b", Index: 1},
					{ParticipantID: "c", Index: 1},
				})
				So(res.Display.Order.Proposal[0], ShouldEqual, "a")
				So(res.Display.Order.Proposal[1], ShouldEqual, "b")
				So([]string(res.Display.Order.Proposal), ShouldNotContain, "c")
			})

			Convey("Then the authoritative room is untouched", func() {
				So([]string(auth.Order.Proposal), ShouldResemble, []string{"a"})
			})
		})

		Convey("When the room plays sequentially", func() {
			auth.Options.ResolveMode = model.ResolveSequential
			auth.Order.List = []string{"a"}
			res := reconcile.Reconcile(auth, []reconcile.Entry{{ParticipantID: "b"}})
			So(res.Display.Order.List, ShouldResemble, []string{"a", "b"})
		})

		Convey("When there is no snapshot yet", func() {
			res := reconcile.Reconcile(nil, []reconcile.Entry{{ParticipantID: "b"}})
			So(res.Display, ShouldBeNil)
			So(res.Surviving, ShouldHaveLength, 1)
		})
	})
}

func TestOverlay(t *testing.T) {
	Convey("Given an overlay on a fake clock", t, func() {
		clk := clock.NewFake(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
		var rollbacks []reconcile.Rollback
		o := reconcile.NewOverlay(
			reconcile.WithClock(clk),
			reconcile.WithRollbackHandler(func(r reconcile.Rollback) { rollbacks = append(rollbacks, r) }),
		)
		So(o.ApplySnapshot(roomAt(3)), ShouldBeTrue)

		Convey("When a placement is never confirmed", func() {
			o.Place("x", 0)
			So(o.Display().Order.Proposal[0], ShouldEqual, "x")

			clk.Advance(reconcile.DefaultWindow - time.Millisecond)
			So(rollbacks, ShouldBeEmpty)
			clk.Advance(time.Millisecond)

			Convey("Then the pre-action view returns and one notice fires", func() {
				So(rollbacks, ShouldHaveLength, 1)
				So(rollbacks[0].ParticipantID, ShouldEqual, "x")
				So([]string(rollbacks[0].Display.Order.Proposal), ShouldBeEmpty)
				So(o.Pending(), ShouldBeEmpty)

				clk.Advance(10 * time.Second)
				So(rollbacks, ShouldHaveLength, 1)
			})
		})

		Convey("When the confirmation arrives first", func() {
			o.Place("x", 0)
			So(o.ApplySnapshot(roomAt(4, "x")), ShouldBeTrue)

			Convey("Then the timer is cancelled and nothing is applied twice", func() {
				So(o.Pending(), ShouldBeEmpty)
				So(clk.Pending(), ShouldEqual, 0)
				clk.Advance(5 * time.Second)
				So(rollbacks, ShouldBeEmpty)
				So([]string(o.Display().Order.Proposal), ShouldResemble, []string{"x"})
			})
		})

		Convey("When two participants place and one is cancelled", func() {
			o.Place("x", 0)
			o.Place("y", 1)
			o.Cancel("x")

			Convey("Then the other keeps its own timer", func() {
				So(o.Pending(), ShouldResemble, []string{"y"})
				clk.Advance(reconcile.DefaultWindow)
				So(rollbacks, ShouldHaveLength, 1)
				So(rollbacks[0].ParticipantID, ShouldEqual, "y")
			})
		})

		Convey("When the rollback is re-armed", func() {
			o.Place("x", 0)
			clk.Advance(time.Second)
			o.ScheduleDropRollback("x", roomAt(3))

			Convey("Then only the newest timer counts", func() {
				clk.Advance(time.Second)
				So(rollbacks, ShouldBeEmpty)
				So(o.Display().Order.Proposal[0], ShouldEqual, "x")
				clk.Advance(reconcile.DefaultWindow - time.Second)
				So(rollbacks, ShouldHaveLength, 1)
			})
		})

		Convey("When a newer snapshot without the placement lands before the timer", func() {
			o.Place("x", 0)
			newer := roomAt(5, "z")
			So(o.ApplySnapshot(newer), ShouldBeTrue)
			clk.Advance(reconcile.DefaultWindow)

			Convey("Then the rollback keeps the newer snapshot", func() {
				So(rollbacks, ShouldHaveLength, 1)
				So(rollbacks[0].Display.StatusVersion, ShouldEqual, 5)
				So([]string(rollbacks[0].Display.Order.Proposal), ShouldResemble, []string{"z"})
			})
		})

		Convey("When an older snapshot arrives", func() {
			So(o.ApplySnapshot(roomAt(6)), ShouldBeTrue)
			So(o.ApplySnapshot(roomAt(5, "late")), ShouldBeFalse)
			So(o.ApplySnapshot(roomAt(6)), ShouldBeTrue)
			So(o.Version(), ShouldEqual, 6)
			So([]string(o.Display().Order.Proposal), ShouldBeEmpty)
		})

		Convey("When the overlay is closed", func() {
			o.Place("x", 0)
			o.Close()
			clk.Advance(5 * time.Second)
			o.Place("y", 0)

			So(rollbacks, ShouldBeEmpty)
			So(o.Pending(), ShouldBeEmpty)
			So(clk.Pending(), ShouldEqual, 0)
		})
	})

	Convey("Given a reduced-motion overlay", t, func() {
		clk := clock.NewFake(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
		fired := 0
		o := reconcile.NewOverlay(
			reconcile.WithClock(clk),
			reconcile.WithReducedMotion(true),
			reconcile.WithRollbackHandler(func(reconcile.Rollback) { fired++ }),
		)
		o.ApplySnapshot(roomAt(1))
		o.Place("x", 0)

		So(o.Window(), ShouldEqual, reconcile.ReducedMotionWindow)
		clk.Advance(reconcile.ReducedMotionWindow)
		So(fired, ShouldEqual, 1)
	})
}

func TestVersionGate(t *testing.T) {
	Convey("Given a version gate", t, func() {
		var g reconcile.VersionGate

		So(g.Accept(4), ShouldBeTrue)
		So(g.Accept(3), ShouldBeFalse)
		So(g.Accept(4), ShouldBeTrue)
		So(g.Accept(9), ShouldBeTrue)
		So(g.Highest(), ShouldEqual, 9)

		g.Reset()
		So(g.Accept(1), ShouldBeTrue)
	})
}
