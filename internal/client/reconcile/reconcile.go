// Package reconcile merges speculative local placements with authoritative
// room snapshots. Reconcile is the pure merge; Overlay adds the rollback
// timers and version gating a live client needs.
package reconcile

import (
	"slices"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
)

// Entry is one speculative placement: the participant's card was put at
// Index locally and the server has not confirmed it yet. Index is ignored in
// sequential mode, where plays append.
type Entry struct {
	ParticipantID string
	Index         int
}

// Result is the merged view and the entries still awaiting confirmation.
type Result struct {
	Display   *model.Room
	Surviving []Entry
}

// Reflected reports whether room already shows id as placed.
func Reflected(room *model.Room, id string) bool {
	if room == nil || room.Order == nil {
		return false
	}
	return slices.Contains(room.Order.List, id) || slices.Contains([]string(room.Order.Proposal), id)
}

// Reconcile overlays entries onto a copy of authoritative. Entries the
// snapshot already reflects are confirmed and dropped; the rest survive and
// are drawn in order. An entry whose slot is taken survives undrawn. A nil
// authoritative room yields a nil display with every entry surviving.
func Reconcile(authoritative *model.Room, entries []Entry) Result {
	if authoritative == nil {
		return Result{Surviving: slices.Clone(entries)}
	}
	display := authoritative.Clone()
	if display.Order == nil {
		display.Order = &model.Order{}
	}
	surviving := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if Reflected(authoritative, e.ParticipantID) {
			continue
		}
		surviving = append(surviving, e)
		if display.Options.ResolveMode == model.ResolveSequential {
			if !slices.Contains(display.Order.List, e.ParticipantID) {
				display.Order.List = append(display.Order.List, e.ParticipantID)
			}
			continue
		}
		res := proposal.PrepareProposalInsert(display.Order.Proposal, e.ParticipantID, display.Order.Total, e.Index)
		if res.Status == proposal.StatusOK {
			display.Order.Proposal = res.Next
		}
	}
	return Result{Display: display, Surviving: surviving}
}
