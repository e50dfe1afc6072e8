package proposal

import "github.com/okian/roomsync/internal/domain/model"

// Evaluation is the left-to-right walk of an order.
type Evaluation struct {
	Failed     bool
	FailedAt   *int // 1-based position of the first inversion
	LastNumber *int // value of the last placed participant
}

// EvaluateOrder walks list comparing each dealt value to its predecessor. The
// first strictly smaller value latches the failure; later positions are not
// inspected for further failures. Ids without a dealt value are skipped.
func EvaluateOrder(list []string, numbers map[string]int) Evaluation {
	var ev Evaluation
	var prev *int
	for i, id := range list {
		v, ok := numbers[id]
		if !ok {
			continue
		}
		if prev != nil && v < *prev && !ev.Failed {
			ev.Failed = true
			ev.FailedAt = model.IntPtr(i + 1)
		}
		prev = model.IntPtr(v)
	}
	ev.LastNumber = prev
	return ev
}

// NextStats returns the stats after one finished round. prev is not modified.
func NextStats(prev model.Stats, success bool) model.Stats {
	s := prev
	s.GamesPlayed++
	if success {
		s.Successes++
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
	} else {
		s.Failures++
		s.CurrentStreak = 0
	}
	return s
}

// RevealOutcome is everything a reveal writes back to the room.
type RevealOutcome struct {
	List       []string
	Failed     bool
	FailedAt   *int
	LastNumber *int
	Total      int
	Complete   bool
	Success    bool
	Stats      model.Stats
}

// BuildRevealOutcomePayload evaluates a submitted order. Success needs the
// full expectedTotal entries in non-decreasing order. Stats only advance once
// the order is complete; a single-participant round always succeeds.
func BuildRevealOutcomePayload(list []string, numbers map[string]int, expectedTotal int, previous model.Stats) RevealOutcome {
	ev := EvaluateOrder(list, numbers)
	out := RevealOutcome{
		List:       append([]string(nil), list...),
		Failed:     ev.Failed,
		FailedAt:   ev.FailedAt,
		LastNumber: ev.LastNumber,
		Total:      expectedTotal,
		Complete:   len(list) >= expectedTotal,
		Stats:      previous,
	}
	out.Success = out.Complete && !out.Failed
	if out.Complete {
		out.Stats = NextStats(previous, out.Success)
	}
	return out
}

// Apply writes the outcome onto order, keeping its proposal.
func (o RevealOutcome) Apply(order *model.Order) {
	order.List = append([]string(nil), o.List...)
	order.Failed = o.Failed
	order.FailedAt = o.FailedAt
	order.LastNumber = o.LastNumber
	order.Total = o.Total
}
