// Package dealing selects who receives a value each round and generates the
// values from a seed. Everything here is pure: the same inputs always produce
// the same outputs on every platform, which is what lets the server and a
// replaying client agree on a deal.
package dealing

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// ActivityWindow is how recent a last-seen timestamp must be for a candidate
// to count as active when no presence data is available.
const ActivityWindow = 30 * time.Second

// Candidate is a participant eligible for a deal.
type Candidate struct {
	ID       string
	LastSeen time.Time
}

// PresenceHint is the optional online set from the presence feed.
type PresenceHint struct {
	Online []string
}

// SelectDealTargetPlayers picks the participants that receive a value.
//
// Priority: presence intersection, then last-seen within ActivityWindow, then
// every candidate. It never returns an empty list for a non-empty input. When
// more than one candidate exists but the presence intersection keeps at most
// one, presence is assumed to be undercounting and all candidates are used.
func SelectDealTargetPlayers(candidates []Candidate, hint PresenceHint, now time.Time) []Candidate {
	return SelectDealTargetPlayersWithin(candidates, hint, now, ActivityWindow)
}

// SelectDealTargetPlayersWithin is SelectDealTargetPlayers with a custom
// recency window. A non-positive window uses ActivityWindow.
func SelectDealTargetPlayersWithin(candidates []Candidate, hint PresenceHint, now time.Time, window time.Duration) []Candidate {
	if window <= 0 {
		window = ActivityWindow
	}
	if len(candidates) == 0 {
		return nil
	}

	if len(hint.Online) > 0 {
		online := make(map[string]struct{}, len(hint.Online))
		for _, id := range hint.Online {
			online[id] = struct{}{}
		}
		var filtered []Candidate
		for _, c := range candidates {
			if _, ok := online[c.ID]; ok {
				filtered = append(filtered, c)
			}
		}
		if len(candidates) > 1 && len(filtered) == 1 {
			return copyCandidates(candidates)
		}
		if len(filtered) > 0 {
			return filtered
		}
	}

	var recent []Candidate
	for _, c := range candidates {
		if !c.LastSeen.IsZero() && now.Sub(c.LastSeen) <= window {
			recent = append(recent, c)
		}
	}
	if len(recent) > 0 {
		return recent
	}
	return copyCandidates(candidates)
}

func copyCandidates(in []Candidate) []Candidate {
	return append([]Candidate(nil), in...)
}

// GenerateDeterministicNumbers returns count distinct integers in [min,max]
// drawn by a seeded Fisher-Yates shuffle of the whole range.
//
// Precondition: count <= max-min+1. A larger count is clamped to the range
// size; count <= 0 or min > max yields an empty slice.
func GenerateDeterministicNumbers(count, min, max int, seed string) []int {
	if count <= 0 || min > max {
		return []int{}
	}
	size := max - min + 1
	if count > size {
		count = size
	}

	pool := make([]int, size)
	for i := range pool {
		pool[i] = min + i
	}

	rng := newMulberry32(hashSeed(seed))
	for i := size - 1; i > 0; i-- {
		j := int(rng.next() * float64(i+1))
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}

// hashSeed folds the 64-bit xxhash of seed into 32 bits.
func hashSeed(seed string) uint32 {
	h := xxhash.Sum64String(seed)
	return uint32(h) ^ uint32(h>>32)
}

// mulberry32 is a small 32-bit PRNG with a full 2^32 period.
type mulberry32 struct {
	state uint32
}

func newMulberry32(seed uint32) *mulberry32 {
	return &mulberry32{state: seed}
}

// next returns a float in [0,1).
func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296.0
}

// DealPayload is the result of a deal ready to be stored on the room.
type DealPayload struct {
	Seed        string
	Min         int
	Max         int
	Players     []string
	Numbers     map[string]int
	SeatHistory map[string]int
}

// BuildDealPayload zips ids to values by position. SeatHistory maps each id to
// its seat index in this deal; see MergeSeatHistory for carrying it across
// rounds. Ids without a value (values shorter than ids) are not dealt.
func BuildDealPayload(ids []string, seed string, min, max int, values []int) DealPayload {
	p := DealPayload{
		Seed:        seed,
		Min:         min,
		Max:         max,
		Players:     make([]string, 0, len(ids)),
		Numbers:     make(map[string]int, len(ids)),
		SeatHistory: make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if i >= len(values) {
			break
		}
		p.Players = append(p.Players, id)
		p.Numbers[id] = values[i]
		if _, seen := p.SeatHistory[id]; !seen {
			p.SeatHistory[id] = i
		}
	}
	return p
}

// MergeSeatHistory keeps the first-seen seat index of every id: entries in
// prev win over entries in next.
func MergeSeatHistory(prev, next map[string]int) map[string]int {
	out := make(map[string]int, len(prev)+len(next))
	for id, seat := range next {
		out[id] = seat
	}
	for id, seat := range prev {
		out[id] = seat
	}
	return out
}
