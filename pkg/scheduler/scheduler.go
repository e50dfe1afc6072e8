// Package scheduler limits how often tasks run per scope. Each scope owns a
// FIFO of pending tasks and the time its last task ran; tasks of one scope
// never run closer together than the interval they were enqueued with.
// Different scopes are independent.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/logger"
)

// Task is a unit of scheduled work.
type Task func()

type scope struct {
	pending  []entry
	lastRun  time.Time
	hasRun   bool
	timer    clock.Timer
	idle     bool
	gen      uint64
}

type entry struct {
	task     Task
	interval time.Duration
}

// Scheduler runs tasks through the clock's timers.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.Clock
	log     logger.Logger
	scopes  map[string]*scope
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for timing.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for recovered task panics.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.Real(),
		log:    logger.Nop(),
		scopes: make(map[string]*scope),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends task to the scope's queue. It runs once minInterval has
// passed since the scope's previous task, immediately (on a timer goroutine)
// when the scope is idle. Returns false after Stop.
func (s *Scheduler) Enqueue(scopeKey string, task Task, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	sc, ok := s.scopes[scopeKey]
	if !ok {
		sc = &scope{}
		s.scopes[scopeKey] = sc
	}
	sc.pending = append(sc.pending, entry{task: task, interval: minInterval})
	if sc.idle {
		sc.timer.Stop()
		sc.timer = nil
		sc.idle = false
	}
	if sc.timer == nil {
		s.arm(scopeKey, sc)
	}
	return true
}

// Pending returns the number of queued tasks for scopeKey.
func (s *Scheduler) Pending(scopeKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scopes[scopeKey]; ok {
		return len(sc.pending)
	}
	return 0
}

// Cancel drops every queued task of scopeKey.
func (s *Scheduler) Cancel(scopeKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scopes[scopeKey]; ok {
		if sc.timer != nil {
			sc.timer.Stop()
		}
		delete(s.scopes, scopeKey)
	}
}

// Stop cancels everything and rejects further tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, sc := range s.scopes {
		if sc.timer != nil {
			sc.timer.Stop()
		}
		delete(s.scopes, key)
	}
}

// arm must be called with s.mu held and sc.pending non-empty.
func (s *Scheduler) arm(key string, sc *scope) {
	delay := time.Duration(0)
	if sc.hasRun {
		next := sc.lastRun.Add(sc.pending[0].interval)
		if d := next.Sub(s.clock.Now()); d > 0 {
			delay = d
		}
	}
	sc.gen++
	gen := sc.gen
	sc.timer = s.clock.AfterFunc(delay, func() { s.fire(key, sc, gen) })
}

func (s *Scheduler) fire(key string, sc *scope, gen uint64) {
	s.mu.Lock()
	if s.scopes[key] != sc || sc.gen != gen || len(sc.pending) == 0 {
		s.mu.Unlock()
		return
	}
	next := sc.pending[0]
	sc.pending = sc.pending[1:]
	sc.lastRun = s.clock.Now()
	sc.hasRun = true
	sc.timer = nil
	s.mu.Unlock()

	s.run(key, next.task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes[key] != sc || s.stopped || sc.timer != nil {
		return
	}
	if len(sc.pending) > 0 {
		s.arm(key, sc)
		return
	}
	// An idle scope is forgotten once its interval has passed.
	sc.gen++
	idleGen := sc.gen
	sc.idle = true
	sc.timer = s.clock.AfterFunc(next.interval, func() { s.expire(key, sc, idleGen) })
}

func (s *Scheduler) expire(key string, sc *scope, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes[key] != sc || sc.gen != gen || !sc.idle {
		return
	}
	delete(s.scopes, key)
}

func (s *Scheduler) run(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(context.Background(), "scheduled task panicked", logger.String("scope", key), logger.Any("panic", r))
		}
	}()
	task()
}
