package presence_test

import (
	"testing"
	"time"

	"github.com/okian/roomsync/internal/domain/presence"
	"github.com/okian/roomsync/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStore(t *testing.T) {
	Convey("Given a presence store with a 10s window", t, func() {
		c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		s := presence.NewStore(presence.WithClock(c), presence.WithWindow(10*time.Second))

		Convey("When participants send heartbeats", func() {
			s.Record("r1", "bob", true, time.Time{})
			s.Record("r1", "amy", true, time.Time{})
			s.Record("r1", "cat", false, time.Time{})
			s.Record("r2", "dan", true, time.Time{})

			Convey("Then connected ones are online, sorted, per room", func() {
				uids, ok := s.Online("r1")
				So(ok, ShouldBeTrue)
				So(uids, ShouldResemble, []string{"amy", "bob"})
			})

			Convey("Then heartbeats expire after the window", func() {
				c.Advance(11 * time.Second)
				uids, ok := s.Online("r1")
				So(ok, ShouldBeTrue)
				So(uids, ShouldBeEmpty)

				st := s.Lookup("r1", "amy")
				So(st.Known, ShouldBeTrue)
				So(st.Online, ShouldBeFalse)
			})

			Convey("Then an older heartbeat does not move last-seen back", func() {
				before := s.Lookup("r1", "bob").LastSeen
				s.Record("r1", "bob", true, before.Add(-time.Minute))
				So(s.Lookup("r1", "bob").LastSeen, ShouldEqual, before)
			})
		})

		Convey("When a realtime connection is attached", func() {
			s.Attach("r1", "amy")
			c.Advance(time.Hour)

			Convey("Then the participant stays online regardless of heartbeats", func() {
				uids, _ := s.Online("r1")
				So(uids, ShouldResemble, []string{"amy"})
			})

			Convey("Then detaching the last connection starts the offline clock", func() {
				s.Detach("r1", "amy")
				uids, _ := s.Online("r1")
				So(uids, ShouldBeEmpty)
				So(s.Lookup("r1", "amy").LastSeen, ShouldEqual, c.Now())
			})
		})

		Convey("When the feed is degraded", func() {
			s.Record("r1", "amy", true, time.Time{})
			s.SetDegraded(true)

			Convey("Then callers are told not to trust it", func() {
				uids, ok := s.Online("r1")
				So(ok, ShouldBeFalse)
				So(uids, ShouldBeNil)
				So(s.Lookup("r1", "amy").Known, ShouldBeFalse)
				So(s.Degraded(), ShouldBeTrue)
			})
		})

		Convey("When an unknown participant is looked up", func() {
			st := s.Lookup("r1", "ghost")
			So(st.Known, ShouldBeFalse)
			So(st.LastSeen.IsZero(), ShouldBeTrue)
		})

		Convey("When sweeping", func() {
			s.Record("r1", "old", true, time.Time{})
			s.Attach("r1", "live")
			c.Advance(2 * time.Minute)

			dropped := s.Sweep(time.Minute)

			So(dropped, ShouldEqual, 1)
			So(s.Lookup("r1", "old").Known, ShouldBeFalse)
			So(s.Lookup("r1", "live").Online, ShouldBeTrue)
		})

		Convey("When a room is forgotten", func() {
			s.Attach("r1", "amy")
			s.Forget("r1")
			uids, _ := s.Online("r1")
			So(uids, ShouldBeEmpty)
		})
	})
}
