// Package proposal maintains the sparse ordering players build before a
// reveal and evaluates submitted orders. Functions are total over well-formed
// input and never mutate their arguments.
package proposal

import (
	"fmt"
	"strings"

	"github.com/okian/roomsync/internal/apperr"
)

// InsertStatus reports whether an insert changed anything.
type InsertStatus string

const (
	StatusOK   InsertStatus = "ok"
	StatusNoop InsertStatus = "noop"
)

// AppendIndex asks PrepareProposalInsert for the first empty slot.
const AppendIndex = -1

// NormalizeProposal truncates values to maxCount, turns blank entries into
// empty slots and strips trailing empty slots. It is idempotent.
func NormalizeProposal(values []string, maxCount int) []string {
	if maxCount < 0 {
		maxCount = 0
	}
	n := len(values)
	if n > maxCount {
		n = maxCount
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = strings.TrimSpace(values[i])
	}
	end := len(out)
	for end > 0 && out[end-1] == "" {
		end--
	}
	return out[:end]
}

// InsertResult describes a prepared insert.
type InsertResult struct {
	Status       InsertStatus
	Next         []string // normalized proposal after the insert
	Index        int      // slot the participant landed in, -1 on noop
	ChangedSlots int      // slots whose occupant differs from before
	NullCount    int      // empty slots inside Next
}

// PrepareProposalInsert places participantID at targetIndex, or in the first
// empty slot (appending when none is free) when targetIndex is AppendIndex.
// It never displaces an occupant: a participant already present, an occupied
// slot, a full proposal or an out-of-range slot all yield StatusNoop.
func PrepareProposalInsert(current []string, participantID string, maxCount, targetIndex int) InsertResult {
	base := NormalizeProposal(current, maxCount)
	noop := InsertResult{Status: StatusNoop, Next: base, Index: -1, NullCount: countEmpty(base)}

	participantID = strings.TrimSpace(participantID)
	if participantID == "" || indexOf(base, participantID) >= 0 {
		return noop
	}

	index := targetIndex
	if targetIndex == AppendIndex {
		index = indexOf(base, "")
		if index < 0 {
			index = len(base)
		}
	}
	if index < 0 || index >= maxCount {
		return noop
	}
	if index < len(base) && base[index] != "" {
		return noop
	}

	size := len(base)
	if index >= size {
		size = index + 1
	}
	next := make([]string, size)
	copy(next, base)
	next[index] = participantID
	next = NormalizeProposal(next, maxCount)

	return InsertResult{
		Status:       StatusOK,
		Next:         next,
		Index:        index,
		ChangedSlots: diffSlots(base, next),
		NullCount:    countEmpty(next),
	}
}

// RemoveFromProposal empties the slot held by participantID, if any.
func RemoveFromProposal(current []string, participantID string, maxCount int) ([]string, bool) {
	base := NormalizeProposal(current, maxCount)
	i := indexOf(base, participantID)
	if i < 0 || participantID == "" {
		return base, false
	}
	next := append([]string(nil), base...)
	next[i] = ""
	return NormalizeProposal(next, maxCount), true
}

// ValidateSubmitList accepts list only when it is a permutation of expected:
// same length, no duplicates, no strangers.
func ValidateSubmitList(list, expected []string) error {
	if len(list) != len(expected) {
		return apperr.New(apperr.CodeInvalidPayload,
			fmt.Sprintf("expected %d players, got %d", len(expected), len(list)))
	}
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	seen := make(map[string]bool, len(list))
	for _, id := range list {
		if !want[id] {
			return apperr.New(apperr.CodeInvalidPayload, fmt.Sprintf("unexpected player %q", id))
		}
		if seen[id] {
			return apperr.New(apperr.CodeInvalidPayload, fmt.Sprintf("duplicate player %q", id))
		}
		seen[id] = true
	}
	return nil
}

func indexOf(values []string, id string) int {
	for i, v := range values {
		if v == id {
			return i
		}
	}
	return -1
}

func countEmpty(values []string) int {
	n := 0
	for _, v := range values {
		if v == "" {
			n++
		}
	}
	return n
}

func diffSlots(a, b []string) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	changed := 0
	for i := 0; i < n; i++ {
		var x, y string
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			changed++
		}
	}
	return changed
}
