package proposal_test

import (
	"testing"

	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeProposal(t *testing.T) {
	Convey("Given sparse proposals", t, func() {
		cases := []struct {
			in   []string
			max  int
			want []string
		}{
			{[]string{"a", "", "b", "", ""}, 5, []string{"a", "", "b"}},
			{[]string{"a", "b", "c", "d"}, 2, []string{"a", "b"}},
			{[]string{" ", "a", "  "}, 3, []string{"", "a"}},
			{[]string{"", ""}, 4, []string{}},
			{nil, 3, []string{}},
			{[]string{"a"}, 0, []string{}},
			{[]string{"a"}, -1, []string{}},
		}

		Convey("Then truncation, blank coercion and trailing stripping apply", func() {
			for _, c := range cases {
				So(proposal.NormalizeProposal(c.in, c.max), ShouldResemble, c.want)
			}
		})

		Convey("Then normalizing twice equals normalizing once", func() {
			inputs := [][]string{
				{"", "a", "", "", "b", ""},
				{"x", " ", "y"},
				{"", "", ""},
				{"p1", "p2", "p3", "p4", "p5", "p6"},
			}
			for _, in := range inputs {
				for n := 0; n <= 7; n++ {
					once := proposal.NormalizeProposal(in, n)
					So(proposal.NormalizeProposal(once, n), ShouldResemble, once)
				}
			}
		})

		Convey("Then the input is not modified", func() {
			in := []string{" a ", ""}
			_ = proposal.NormalizeProposal(in, 2)
			So(in, ShouldResemble, []string{" a ", ""})
		})
	})
}

func TestPrepareProposalInsert(t *testing.T) {
	Convey("Given a three-slot proposal", t, func() {
		Convey("When two clients race for slot 0", func() {
			first := proposal.PrepareProposalInsert(nil, "p1", 3, 0)
			second := proposal.PrepareProposalInsert(first.Next, "p2", 3, 0)

			Convey("Then the second is a noop and the slot keeps the first id", func() {
				So(first.Status, ShouldEqual, proposal.StatusOK)
				So(first.Index, ShouldEqual, 0)
				So(second.Status, ShouldEqual, proposal.StatusNoop)
				So(second.Index, ShouldEqual, -1)
				So(second.Next, ShouldResemble, []string{"p1"})
			})
		})

		Convey("When the same participant inserts twice at the same target", func() {
			for _, target := range []int{0, 1, 2, proposal.AppendIndex} {
				once := proposal.PrepareProposalInsert([]string{}, "p9", 3, target)
				twice := proposal.PrepareProposalInsert(once.Next, "p9", 3, target)
				So(once.Status, ShouldEqual, proposal.StatusOK)
				So(twice.Status, ShouldEqual, proposal.StatusNoop)
				So(twice.Next, ShouldResemble, once.Next)
			}
		})

		Convey("When inserting into a later slot", func() {
			res := proposal.PrepareProposalInsert([]string{}, "p3", 3, 2)

			Convey("Then earlier slots are empty and counted", func() {
				So(res.Status, ShouldEqual, proposal.StatusOK)
				So(res.Next, ShouldResemble, []string{"", "", "p3"})
				So(res.Index, ShouldEqual, 2)
				So(res.ChangedSlots, ShouldEqual, 1)
				So(res.NullCount, ShouldEqual, 2)
			})
		})

		Convey("When appending with a hole in the middle", func() {
			res := proposal.PrepareProposalInsert([]string{"p1", "", "p3"}, "p2", 3, proposal.AppendIndex)

			Convey("Then the first empty slot is filled", func() {
				So(res.Next, ShouldResemble, []string{"p1", "p2", "p3"})
				So(res.Index, ShouldEqual, 1)
				So(res.NullCount, ShouldEqual, 0)
			})
		})

		Convey("When appending without holes", func() {
			res := proposal.PrepareProposalInsert([]string{"p1"}, "p2", 3, proposal.AppendIndex)
			So(res.Next, ShouldResemble, []string{"p1", "p2"})
			So(res.Index, ShouldEqual, 1)
		})

		Convey("When the proposal is full or the slot is out of range", func() {
			full := proposal.PrepareProposalInsert([]string{"a", "b", "c"}, "d", 3, proposal.AppendIndex)
			out := proposal.PrepareProposalInsert(nil, "d", 3, 3)
			neg := proposal.PrepareProposalInsert(nil, "d", 3, -4)
			blank := proposal.PrepareProposalInsert(nil, "  ", 3, 0)
			So(full.Status, ShouldEqual, proposal.StatusNoop)
			So(out.Status, ShouldEqual, proposal.StatusNoop)
			So(neg.Status, ShouldEqual, proposal.StatusNoop)
			So(blank.Status, ShouldEqual, proposal.StatusNoop)
		})
	})
}

func TestRemoveFromProposal(t *testing.T) {
	Convey("Given a proposal", t, func() {
		next, ok := proposal.RemoveFromProposal([]string{"a", "b", "c"}, "c", 3)
		So(ok, ShouldBeTrue)
		So(next, ShouldResemble, []string{"a", "b"})

		next, ok = proposal.RemoveFromProposal([]string{"a", "b", "c"}, "a", 3)
		So(ok, ShouldBeTrue)
		So(next, ShouldResemble, []string{"", "b", "c"})

		_, ok = proposal.RemoveFromProposal([]string{"a"}, "z", 3)
		So(ok, ShouldBeFalse)
	})
}

func TestValidateSubmitList(t *testing.T) {
	Convey("Given the dealt players p1, p2, p3", t, func() {
		expected := []string{"p1", "p2", "p3"}

		So(proposal.ValidateSubmitList([]string{"p3", "p1", "p2"}, expected), ShouldBeNil)

		for _, bad := range [][]string{
			{"p1", "p2"},
			{"p1", "p2", "p2"},
			{"p1", "p2", "p4"},
			{"p1", "p2", "p3", "p4"},
		} {
			err := proposal.ValidateSubmitList(bad, expected)
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeInvalidPayload)
		}
	})
}

func TestBuildRevealOutcomePayload(t *testing.T) {
	numbers := map[string]int{"p1": 5, "p2": 3, "p3": 9, "p4": 1, "p5": 12}
	prev := model.Stats{GamesPlayed: 4, Successes: 3, CurrentStreak: 2, BestStreak: 2}

	Convey("Given a submission p1(5), p2(3), p3(9)", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"p1", "p2", "p3"}, numbers, 3, prev)

		Convey("Then the failure latches at position 2", func() {
			So(out.Failed, ShouldBeTrue)
			So(*out.FailedAt, ShouldEqual, 2)
			So(out.Success, ShouldBeFalse)
			So(*out.LastNumber, ShouldEqual, 9)
		})

		Convey("Then stats record a loss without touching the input", func() {
			So(out.Stats.GamesPlayed, ShouldEqual, 5)
			So(out.Stats.Failures, ShouldEqual, 1)
			So(out.Stats.CurrentStreak, ShouldEqual, 0)
			So(out.Stats.BestStreak, ShouldEqual, 2)
			So(prev.GamesPlayed, ShouldEqual, 4)
		})
	})

	Convey("Given an order with several inversions", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"p2", "p1", "p5", "p4"}, numbers, 4, prev)

		Convey("Then only the first inversion is reported", func() {
			So(out.Failed, ShouldBeTrue)
			So(*out.FailedAt, ShouldEqual, 4)
		})

		first := proposal.BuildRevealOutcomePayload([]string{"p1", "p2", "p5", "p4"}, numbers, 4, prev)
		So(*first.FailedAt, ShouldEqual, 2)
	})

	Convey("Given a non-decreasing order", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"p4", "p2", "p1", "p3", "p5"}, numbers, 5, prev)

		Convey("Then the round succeeds and the streak grows", func() {
			So(out.Failed, ShouldBeFalse)
			So(out.FailedAt, ShouldBeNil)
			So(out.Success, ShouldBeTrue)
			So(out.Stats.Successes, ShouldEqual, 4)
			So(out.Stats.CurrentStreak, ShouldEqual, 3)
			So(out.Stats.BestStreak, ShouldEqual, 3)
		})
	})

	Convey("Given equal values side by side", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"a", "b"}, map[string]int{"a": 4, "b": 4}, 2, model.Stats{})
		So(out.Success, ShouldBeTrue)
	})

	Convey("Given a single-participant round", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"p5"}, numbers, 1, model.Stats{})
		So(out.Success, ShouldBeTrue)
		So(out.Stats.GamesPlayed, ShouldEqual, 1)
	})

	Convey("Given an incomplete sequential order", t, func() {
		out := proposal.BuildRevealOutcomePayload([]string{"p1", "p2"}, numbers, 3, prev)

		Convey("Then the failure is known but stats wait for completion", func() {
			So(out.Failed, ShouldBeTrue)
			So(out.Complete, ShouldBeFalse)
			So(out.Stats, ShouldResemble, prev)
		})
	})

	Convey("Given an outcome applied to an order", t, func() {
		order := &model.Order{Proposal: model.Proposal{"p1"}}
		proposal.BuildRevealOutcomePayload([]string{"p1", "p3"}, numbers, 2, model.Stats{}).Apply(order)
		So(order.List, ShouldResemble, []string{"p1", "p3"})
		So(order.Failed, ShouldBeFalse)
		So(order.Total, ShouldEqual, 2)
		So([]string(order.Proposal), ShouldResemble, []string{"p1"})
	})
}
