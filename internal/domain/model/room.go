// Package model contains the room aggregate and the values passed between layers.
package model

import (
	"sort"
	"time"
)

// ResolveMode selects how a round's order is decided.
type ResolveMode string

const (
	// ResolveSequential places one card at a time (commitPlayFromClue).
	ResolveSequential ResolveMode = "sequential"
	// ResolveSortSubmit arranges a proposal and submits it whole (submitOrder).
	ResolveSortSubmit ResolveMode = "sort-submit"
)

// Options are chosen at room creation.
type Options struct {
	ResolveMode      ResolveMode `json:"resolveMode"`
	DefaultTopicType string      `json:"defaultTopicType,omitempty"`
	DealMin          int         `json:"dealMin,omitempty"`
	DealMax          int         `json:"dealMax,omitempty"`
	MaxPlayers       int         `json:"maxPlayers,omitempty"`
}

// Topic is the prompt players give clues about.
type Topic struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Custom bool   `json:"custom"`
}

// Order is the current proposal and result state of a round.
// Once Failed is true FailedAt never changes; List only grows.
type Order struct {
	List       []string `json:"list"`
	Proposal   Proposal `json:"proposal"`
	Failed     bool     `json:"failed"`
	FailedAt   *int     `json:"failedAt"`
	LastNumber *int     `json:"lastNumber"`
	Total      int      `json:"total"`

	// Request ids of the committed submit and plays of this round.
	SubmitRequestID string   `json:"submitRequestId,omitempty"`
	PlayRequestIDs  []string `json:"playRequestIds,omitempty"`
}

// Deal is the seeded assignment of hidden values for one round.
type Deal struct {
	Seed        string         `json:"seed"`
	Min         int            `json:"min"`
	Max         int            `json:"max"`
	Players     []string       `json:"players"`
	Numbers     map[string]int `json:"numbers"`
	SeatHistory map[string]int `json:"seatHistory"`
}

// Stats are the room's aggregate win/loss counters.
type Stats struct {
	GamesPlayed   int `json:"gamesPlayed"`
	Successes     int `json:"successes"`
	Failures      int `json:"failures"`
	CurrentStreak int `json:"currentStreak"`
	BestStreak    int `json:"bestStreak"`
}

// Participant is one seat in a room.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Number    *int       `json:"number"`
	Clue      string     `json:"clue"`
	Ready     bool       `json:"ready"`
	Spectator bool       `json:"spectator"`
	LastSeen  time.Time  `json:"lastSeen"`
	JoinedAt  time.Time  `json:"joinedAt"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

// Active reports whether the participant has not been pruned.
func (p *Participant) Active() bool {
	return p != nil && p.RemovedAt == nil
}

// Room is the shared authoritative aggregate of one game session.
type Room struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Status         Status                  `json:"status"`
	HostID         string                  `json:"hostId"`
	CreatorID      string                  `json:"creatorId"`
	StatusVersion  int64                   `json:"statusVersion"`
	AppVersion     string                  `json:"appVersion"`
	PasswordHash   string                  `json:"passwordHash,omitempty"`
	Options        Options                 `json:"options"`
	Topic          *Topic                  `json:"topic,omitempty"`
	Round          int                     `json:"round"`
	Order          *Order                  `json:"order,omitempty"`
	Deal           *Deal                   `json:"deal,omitempty"`
	ResetRequestID string                  `json:"resetRequestId,omitempty"`
	DealRequestID  string                  `json:"dealRequestId,omitempty"`
	Stats          Stats                   `json:"stats"`
	Participants   map[string]*Participant `json:"participants"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// Participant returns an active participant by id.
func (r *Room) Participant(id string) (*Participant, bool) {
	p, ok := r.Participants[id]
	if !ok || !p.Active() {
		return nil, false
	}
	return p, true
}

// ActiveParticipants returns non-pruned participants ordered by join time,
// then id.
func (r *Room) ActiveParticipants() []*Participant {
	out := make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsHostOrCreator reports whether uid holds elevated privileges.
func (r *Room) IsHostOrCreator(uid string) bool {
	return uid != "" && (uid == r.HostID || uid == r.CreatorID)
}

// Clone returns a deep copy. Transactions mutate clones only.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.Topic != nil {
		t := *r.Topic
		c.Topic = &t
	}
	c.Order = r.Order.clone()
	c.Deal = r.Deal.clone()
	if r.Participants != nil {
		c.Participants = make(map[string]*Participant, len(r.Participants))
		for id, p := range r.Participants {
			c.Participants[id] = p.clone()
		}
	}
	return &c
}

// ViewFor returns a copy safe to show to viewer: the password hash is dropped
// and, until the round is revealed, other participants' numbers and the deal
// seed are hidden.
func (r *Room) ViewFor(viewer string) *Room {
	v := r.Clone()
	v.PasswordHash = ""
	if v.Status.Revealed() {
		return v
	}
	for id, p := range v.Participants {
		if id != viewer {
			p.Number = nil
		}
	}
	if v.Deal != nil {
		v.Deal.Seed = ""
		own := make(map[string]int, 1)
		if n, ok := v.Deal.Numbers[viewer]; ok {
			own[viewer] = n
		}
		v.Deal.Numbers = own
	}
	return v
}

func (p *Participant) clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	c.Number = cloneInt(p.Number)
	if p.RemovedAt != nil {
		t := *p.RemovedAt
		c.RemovedAt = &t
	}
	return &c
}

func (o *Order) clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.List = append([]string(nil), o.List...)
	c.Proposal = append(Proposal(nil), o.Proposal...)
	c.PlayRequestIDs = append([]string(nil), o.PlayRequestIDs...)
	c.FailedAt = cloneInt(o.FailedAt)
	c.LastNumber = cloneInt(o.LastNumber)
	return &c
}

func (d *Deal) clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	c.Players = append([]string(nil), d.Players...)
	c.Numbers = cloneMap(d.Numbers)
	c.SeatHistory = cloneMap(d.SeatHistory)
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
