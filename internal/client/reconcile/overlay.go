package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/metrics"
)

// Rollback windows.
const (
	DefaultWindow       = 1700 * time.Millisecond
	ReducedMotionWindow = 1400 * time.Millisecond
)

// Rollback is delivered once per speculative entry that timed out unconfirmed.
type Rollback struct {
	ParticipantID string
	Display       *model.Room // what the client shows after the rollback
}

type pending struct {
	entry Entry
	seq   uint64 // placement order
	gen   uint64 // bumped on every (re)schedule and on removal
	pre   *model.Room
	timer clock.Timer
}

// Overlay holds the authoritative snapshot plus speculative placements, one
// per participant, each with its own rollback timer.
type Overlay struct {
	mu sync.Mutex

	clock      clock.Clock
	window     time.Duration
	onRollback func(Rollback)

	gate          VersionGate
	authoritative *model.Room
	entries       map[string]*pending
	seq           uint64
	gen           uint64
	closed        bool
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithClock sets the timer source.
func WithClock(c clock.Clock) Option {
	return func(o *Overlay) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithReducedMotion shortens the rollback window.
func WithReducedMotion(reduced bool) Option {
	return func(o *Overlay) {
		if reduced {
			o.window = ReducedMotionWindow
		}
	}
}

// WithRollbackHandler is called, outside the overlay lock, for every rollback.
func WithRollbackHandler(fn func(Rollback)) Option {
	return func(o *Overlay) {
		o.onRollback = fn
	}
}

// NewOverlay returns an empty overlay.
func NewOverlay(opts ...Option) *Overlay {
	o := &Overlay{
		clock:   clock.Real(),
		window:  DefaultWindow,
		entries: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Window returns the rollback window in use.
func (o *Overlay) Window() time.Duration { return o.window }

// ApplySnapshot installs an authoritative view. Older versions are rejected
// and reported false. Entries the new view reflects are confirmed: their
// timers are cancelled and no rollback notice is sent.
func (o *Overlay) ApplySnapshot(view *model.Room) bool {
	if view == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !o.gate.Accept(view.StatusVersion) {
		return false
	}
	o.authoritative = view.Clone()
	for id, p := range o.entries {
		if Reflected(o.authoritative, id) {
			o.dropLocked(id, p)
		}
	}
	return true
}

// Place records a speculative placement of participantID at index and
// schedules its rollback against the current authoritative snapshot. A
// second placement for the same participant replaces the first.
func (o *Overlay) Place(participantID string, index int) {
	o.mu.Lock()
	var pre *model.Room
	if o.authoritative != nil {
		pre = o.authoritative.Clone()
	}
	o.mu.Unlock()
	o.schedule(participantID, &index, pre)
}

// ScheduleDropRollback (re)arms the rollback timer for participantID. If the
// timer fires before an authoritative snapshot reflects the placement, the
// entry is discarded, pre is restored unless a newer snapshot has arrived,
// and one Rollback is delivered.
func (o *Overlay) ScheduleDropRollback(participantID string, pre *model.Room) {
	o.schedule(participantID, nil, pre)
}

// schedule keeps the recorded index when index is nil; a new entry without
// one appends.
func (o *Overlay) schedule(participantID string, index *int, pre *model.Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	p, ok := o.entries[participantID]
	if !ok {
		o.seq++
		p = &pending{entry: Entry{ParticipantID: participantID, Index: proposal.AppendIndex}, seq: o.seq}
		o.entries[participantID] = p
	}
	if index != nil {
		p.entry.Index = *index
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if pre != nil {
		p.pre = pre.Clone()
	}
	o.gen++
	gen := o.gen
	p.gen = gen
	p.timer = o.clock.AfterFunc(o.window, func() { o.fire(participantID, gen) })
}

func (o *Overlay) fire(participantID string, gen uint64) {
	o.mu.Lock()
	p, ok := o.entries[participantID]
	if o.closed || !ok || p.gen != gen {
		o.mu.Unlock()
		return
	}
	if Reflected(o.authoritative, participantID) {
		o.dropLocked(participantID, p)
		o.mu.Unlock()
		return
	}
	o.dropLocked(participantID, p)
	if p.pre != nil && (o.authoritative == nil || p.pre.StatusVersion >= o.authoritative.StatusVersion) {
		o.authoritative = p.pre
	}
	display := o.displayLocked()
	handler := o.onRollback
	o.mu.Unlock()

	metrics.RecordRollback()
	if handler != nil {
		handler(Rollback{ParticipantID: participantID, Display: display})
	}
}

// Cancel drops the entry for participantID without a rollback notice.
func (o *Overlay) Cancel(participantID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.entries[participantID]; ok {
		o.dropLocked(participantID, p)
	}
}

func (o *Overlay) dropLocked(id string, p *pending) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen = 0
	delete(o.entries, id)
}

// Close cancels every timer. Later calls are no-ops.
func (o *Overlay) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, p := range o.entries {
		o.dropLocked(id, p)
	}
	o.closed = true
}

// Pending returns the participants with unconfirmed placements, in placement order.
func (o *Overlay) Pending() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.entries))
	for _, p := range o.sortedLocked() {
		ids = append(ids, p.entry.ParticipantID)
	}
	return ids
}

// Display returns the authoritative snapshot with pending placements drawn in.
func (o *Overlay) Display() *model.Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.displayLocked()
}

// Version returns the highest authoritative version applied.
func (o *Overlay) Version() int64 { return o.gate.Highest() }

func (o *Overlay) sortedLocked() []*pending {
	ps := make([]*pending, 0, len(o.entries))
	for _, p := range o.entries {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
	return ps
}

func (o *Overlay) displayLocked() *model.Room {
	entries := make([]Entry, 0, len(o.entries))
	for _, p := range o.sortedLocked() {
		entries = append(entries, p.entry)
	}
	return Reconcile(o.authoritative, entries).Display
}
