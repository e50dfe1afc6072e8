// Package presence tracks which participants are currently connected to a
// room. It is a hint source only: callers must keep working when it reports
// itself degraded.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/metrics"
)

// DefaultWindow is how long a heartbeat keeps a participant online.
const DefaultWindow = 20 * time.Second

type record struct {
	conns     int       // open realtime connections
	connected bool      // last heartbeat state
	at        time.Time // last heartbeat or connection change
}

// Store holds presence records per room.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*record
	window   time.Duration
	clock    clock.Clock
	degraded bool
}

// Option configures a Store.
type Option func(*Store)

// WithWindow sets how long a heartbeat counts as online.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:  make(map[string]map[string]*record),
		window: DefaultWindow,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) get(roomID, uid string) *record {
	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]*record)
		s.rooms[roomID] = room
	}
	r, ok := room[uid]
	if !ok {
		r = &record{}
		room[uid] = r
	}
	return r
}

// Record stores a heartbeat. A zero at means now.
func (s *Store) Record(roomID, uid string, connected bool, at time.Time) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(roomID, uid)
	r.connected = connected
	if at.After(r.at) {
		r.at = at
	}
}

// Attach counts an open realtime connection.
func (s *Store) Attach(roomID, uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(roomID, uid)
	r.conns++
	r.connected = true
	r.at = s.clock.Now()
}

// Detach releases a connection counted by Attach.
func (s *Store) Detach(roomID, uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(roomID, uid)
	if r.conns > 0 {
		r.conns--
	}
	r.at = s.clock.Now()
	if r.conns == 0 {
		r.connected = false
	}
}

// SetDegraded marks the feed as unavailable (or available again).
func (s *Store) SetDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = degraded
}

// Degraded reports whether the feed is unavailable.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) online(r *record, now time.Time) bool {
	if r.conns > 0 {
		return true
	}
	return r.connected && now.Sub(r.at) <= s.window
}

// Online returns the sorted online uids of roomID. ok is false while degraded,
// in which case the list must not be trusted.
func (s *Store) Online(roomID string) (uids []string, ok bool) {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return nil, false
	}
	uids = []string{}
	for uid, r := range s.rooms[roomID] {
		if s.online(r, now) {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)
	return uids, true
}

// Status is what the store knows about one participant.
type Status struct {
	Known    bool      // a record exists and the store is not degraded
	Online   bool      // meaningful only when Known
	LastSeen time.Time // last heartbeat or connection change
}

// Lookup returns the presence status of uid in roomID.
func (s *Store) Lookup(roomID, uid string) Status {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID][uid]
	if !ok || s.degraded {
		var last time.Time
		if ok {
			last = r.at
		}
		return Status{LastSeen: last}
	}
	return Status{Known: true, Online: s.online(r, now), LastSeen: r.at}
}

// Forget drops every record of roomID.
func (s *Store) Forget(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Sweep drops records offline for longer than retain and refreshes the
// online gauge. It returns the number of records dropped.
func (s *Store) Sweep(retain time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped, online := 0, 0
	for roomID, room := range s.rooms {
		for uid, r := range room {
			switch {
			case s.online(r, now):
				online++
			case now.Sub(r.at) > retain:
				delete(room, uid)
				dropped++
			}
		}
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
	metrics.UpdatePresenceOnline(online)
	return dropped
}
