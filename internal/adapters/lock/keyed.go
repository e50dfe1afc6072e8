// Package lock provides per-key mutual exclusion with context-aware waits.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/roomsync/pkg/metrics"
)

// ErrTimeout is returned when the wait for a key ends before it was acquired.
var ErrTimeout = errors.New("lock wait timed out")

type slot struct {
	ch   chan struct{} // holds one token while the key is free
	refs int
}

// Keyed serializes holders of the same key. Keys are created on first use and
// dropped when nobody holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewKeyed returns an empty Keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Acquire blocks until key is held or ctx is done. The returned release must
// be called exactly once; extra calls are ignored.
func (k *Keyed) Acquire(ctx context.Context, key string) (release func(), err error) {
	start := time.Now()
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		s.ch <- struct{}{}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case <-s.ch:
	case <-ctx.Done():
		k.unref(key, s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
	metrics.RecordLockWait(float64(time.Since(start).Microseconds()) / 1000)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.ch <- struct{}{}
			k.unref(key, s)
		})
	}, nil
}

func (k *Keyed) unref(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
