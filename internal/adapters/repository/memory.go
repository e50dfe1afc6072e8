package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/metrics"
)

type memEntry struct {
	mu   sync.Mutex
	room *model.Room
}

// MemoryStore keeps rooms in process memory. Writes to different rooms do
// not contend; the map lock is only held to find an entry.
type MemoryStore struct {
	opts   options
	mu     sync.RWMutex
	rooms  map[string]*memEntry
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{opts: o, rooms: make(map[string]*memEntry)}
}

func (s *MemoryStore) entry(id string) (*memEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Create stores a new room.
func (s *MemoryStore) Create(ctx context.Context, room *model.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("memory", "create", sinceMs(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.rooms[room.ID]; ok {
		return ErrExists
	}
	c := room.Clone()
	c.StatusVersion = 1
	s.rooms[room.ID] = &memEntry{room: c}
	return nil
}

// Get returns a copy of the room.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone(), nil
}

// Update applies fn under the room's entry lock.
func (s *MemoryStore) Update(ctx context.Context, id string, fn MutateFunc) (*model.Room, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("memory", "update", sinceMs(start)) }()

	e, err := s.entry(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.room.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return e.room.Clone(), false, nil
		}
		return nil, false, err
	}
	stamp(working, e.room.StatusVersion, s.opts.clock.Now())
	e.room = working
	return working.Clone(), true, nil
}

// Count returns the number of rooms.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

// Close rejects further calls.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
