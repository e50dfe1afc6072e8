// Package service implements the room command layer. Every mutation is
// authenticated, rate limited, serialized per room and committed through the
// repository as one transaction that advances statusVersion by exactly one.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/lock"
	eventqueue "github.com/okian/roomsync/internal/adapters/mq/queue"
	workerpool "github.com/okian/roomsync/internal/adapters/mq/worker"
	"github.com/okian/roomsync/internal/adapters/repository"
	"github.com/okian/roomsync/internal/config"
	"github.com/okian/roomsync/internal/domain/dedupe"
	"github.com/okian/roomsync/internal/domain/presence"
	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/scheduler"
)

// Authenticator verifies caller tokens and issues host sessions.
type Authenticator interface {
	VerifyIdentity(token string) (auth.Identity, error)
	VerifyHostSession(token, roomID string) (auth.HostSession, error)
	IssueHostSession(uid, roomID string, ttl time.Duration) (string, error)
}

// Service executes room commands.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	auth       Authenticator
	locks      *lock.Keyed
	deduper    dedupe.Deduper
	queue      eventqueue.Queue
	pool       *workerpool.Pool
	dispatcher workerpool.Dispatcher
	presence   *presence.Store
	scheduler  *scheduler.Scheduler
	clock      clock.Clock

	limitMu  sync.Mutex
	limiters map[string]*limiterEntry

	// Configuration
	appVersion     string
	lockTimeout    time.Duration
	hostGrace      time.Duration
	hostSessionTTL time.Duration
	activityWindow time.Duration
	touchInterval  time.Duration
	dealMin        int
	dealMax        int
	ratePerSec     float64
	rateBurst      int
	queueSize      int
	workerCount    int
	dedupeSize     int

	started bool
	logger  logger.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig copies the command layer settings from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		s.appVersion = cfg.AppVersion
		s.lockTimeout = cfg.LockTimeout()
		s.hostGrace = cfg.HostGrace()
		s.hostSessionTTL = cfg.HostSessionTTL()
		s.activityWindow = cfg.ActivityWindow()
		s.touchInterval = cfg.TouchInterval()
		s.dealMin, s.dealMax = cfg.DealMin, cfg.DealMax
		s.ratePerSec, s.rateBurst = cfg.RateLimitPerSec, cfg.RateLimitBurst
		s.queueSize = cfg.NotifyQueueSize
		s.workerCount = cfg.NotifyWorkers
		s.dedupeSize = cfg.DedupeSize
	}
}

// WithStore sets the room store. The default is an in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithAuthenticator sets the token verifier. It is required.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) {
		if a != nil {
			s.auth = a
		}
	}
}

// WithPresence shares a presence store with the websocket hub.
func WithPresence(p *presence.Store) Option {
	return func(s *Service) {
		if p != nil {
			s.presence = p
		}
	}
}

// WithDispatcher sets where committed room changes are announced.
func WithDispatcher(d workerpool.Dispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	defaults := config.New()
	s := &Service{
		locks:    lock.NewKeyed(),
		clock:    clock.Real(),
		limiters: make(map[string]*limiterEntry),
	}
	WithConfig(defaults)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithClock(s.clock))
	}
	if s.presence == nil {
		s.presence = presence.NewStore(presence.WithClock(s.clock))
	}
	if s.dispatcher == nil {
		s.dispatcher = workerpool.DispatchFunc(func(context.Context, eventqueue.Event) error { return nil })
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.scheduler = scheduler.New(scheduler.WithClock(s.clock), scheduler.WithLogger(s.logger.Named("touch")))
	return s
}

// Start launches the notification workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.auth == nil {
		return errors.New("service: authenticator is required")
	}
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.dispatcher, s.logger)
	s.pool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "room service started",
		logger.String("appVersion", s.appVersion),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// Stop drains notifications and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.scheduler.Stop()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.started = false
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	s.logger.Info(ctx, "room service stopped")
	return nil
}

// Presence returns the presence store fed by heartbeats.
func (s *Service) Presence() *presence.Store { return s.presence }

// Sweep drops stale presence records and idle rate limiters.
func (s *Service) Sweep(retain time.Duration) {
	s.presence.Sweep(retain)

	cutoff := s.clock.Now().Add(-retain)
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	for key, e := range s.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// Stats reports service state for the health endpoint.
func (s *Service) Stats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"appVersion":  s.appVersion,
		"queueLength": s.queue.Len(),
		"dedupeSize":  s.deduper.Size(),
		"lockedRooms": s.locks.Len(),
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["rooms"] = n
	}
	return stats
}
