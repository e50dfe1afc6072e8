package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/retry"
)

// Server is the part of the room API a Supervisor calls.
type Server interface {
	HostClaimer
	Pruner
}

// Supervisor runs failover for one participant. Snapshots and presence frames
// feed a HostMonitor and an OfflinePruner. While the host is claimable and
// self is eligible, every frame triggers a claim, so a failed claim is tried
// again on the next presence tick. While self holds the seat, offline
// participants are pruned every PruneInterval.
type Supervisor struct {
	mu sync.Mutex

	roomID  string
	self    string
	token   string
	clock   clock.Clock
	logger  logger.Logger
	grace   time.Duration
	policy  retry.Policy
	onClaim func(ClaimResult, error)

	monitor *HostMonitor
	claimer *Claimer
	pruner  *OfflinePruner

	room       *model.Room
	online     []string
	presenceOK bool
	lastHost   string
	hostToken  string
	pruneTimer clock.Timer

	claimKick chan struct{}
	pruneKick chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock sets the time source shared by the monitor, the pruner
// and the prune ticker.
func WithSupervisorClock(c clock.Clock) SupervisorOption {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l logger.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSupervisorGrace sets the host grace window.
func WithSupervisorGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithSupervisorClaimPolicy sets the retry policy of each claim.
func WithSupervisorClaimPolicy(p retry.Policy) SupervisorOption {
	return func(s *Supervisor) { s.policy = p }
}

// WithClaimCallback is called after every claim attempt.
func WithClaimCallback(fn func(ClaimResult, error)) SupervisorOption {
	return func(s *Supervisor) { s.onClaim = fn }
}

// NewSupervisor returns a supervisor acting as self in roomID, authenticating
// with token.
func NewSupervisor(server Server, roomID, self, token string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		roomID:    roomID,
		self:      self,
		token:     token,
		clock:     clock.Real(),
		grace:     DefaultGrace,
		policy:    retry.Default,
		claimKick: make(chan struct{}, 1),
		pruneKick: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("failover")
	}
	s.monitor = NewHostMonitor(
		WithMonitorClock(s.clock),
		WithGrace(s.grace),
		WithOnChange(func(st HostStatus) {
			if st.Claimable() {
				s.kick()
			}
		}),
	)
	s.claimer = NewClaimer(server, roomID, self, WithClaimPolicy(s.policy), WithClaimLogger(s.logger))
	s.pruner = NewOfflinePruner(server, roomID, self,
		WithPrunerClock(s.clock),
		WithStaleness(2*s.grace),
		WithPrunerLogger(s.logger),
	)
	return s
}

// Status returns the host classification.
func (s *Supervisor) Status() HostStatus { return s.monitor.Status() }

// HostSessionToken returns the session token of the last won claim.
func (s *Supervisor) HostSessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostToken
}

// ObserveRoom feeds a room snapshot.
func (s *Supervisor) ObserveRoom(room *model.Room) {
	if room == nil {
		return
	}
	room = room.Clone()
	s.mu.Lock()
	s.room = room
	if room.HostID != "" {
		s.lastHost = room.HostID
	}
	online, ok := s.online, s.presenceOK
	s.syncPruneLocked()
	s.mu.Unlock()

	s.monitor.ObserveRoom(room.HostID, activeIDs(room))
	s.pruner.Observe(room, online, ok)
	s.kick()
}

// ObservePresence feeds a presence frame. ok false means presence is
// unavailable.
func (s *Supervisor) ObservePresence(online []string, ok bool) {
	s.mu.Lock()
	s.online = append([]string(nil), online...)
	s.presenceOK = ok
	room := s.room
	s.mu.Unlock()

	s.monitor.ObservePresence(online, ok)
	if room != nil {
		s.pruner.Observe(room, online, ok)
	}
	s.kick()
}

// Run serves claim and prune triggers until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	defer func() {
		s.monitor.Close()
		s.mu.Lock()
		s.stopPruneLocked()
		s.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.claimKick:
			s.tryClaim(ctx)
		case <-s.pruneKick:
			s.tryPrune(ctx)
		}
	}
}

func (s *Supervisor) kick() {
	select {
	case s.claimKick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) tryClaim(ctx context.Context) {
	if !s.monitor.Status().Claimable() {
		return
	}
	s.mu.Lock()
	room, online, lastHost := s.room, s.online, s.lastHost
	s.mu.Unlock()
	if !Eligible(room, online, s.self, lastHost) {
		return
	}

	res, err := s.claimer.Claim(ctx, s.token)
	if errors.Is(err, ErrClaimInFlight) {
		return
	}
	if res.Won {
		s.mu.Lock()
		s.hostToken = res.HostSessionToken
		s.mu.Unlock()
		// Seat the claim locally until the next snapshot confirms it.
		won := room.Clone()
		won.HostID = s.self
		s.ObserveRoom(won)
	}
	if s.onClaim != nil {
		s.onClaim(res, err)
	}
}

func (s *Supervisor) tryPrune(ctx context.Context) {
	removed, err := s.pruner.Tick(ctx, s.token)
	if err == nil && len(removed) > 0 {
		s.logger.Info(ctx, "pruned offline participants", logger.Room(s.roomID), logger.Strings("removed", removed))
	}
	s.mu.Lock()
	s.syncPruneLocked()
	s.mu.Unlock()
}

// syncPruneLocked keeps one prune timer armed exactly while self is host.
func (s *Supervisor) syncPruneLocked() {
	if s.room == nil || s.room.HostID != s.self {
		s.stopPruneLocked()
		return
	}
	if s.pruneTimer != nil {
		return
	}
	s.pruneTimer = s.clock.AfterFunc(PruneInterval, func() {
		s.mu.Lock()
		s.pruneTimer = nil
		s.mu.Unlock()
		select {
		case s.pruneKick <- struct{}{}:
		default:
		}
	})
}

func (s *Supervisor) stopPruneLocked() {
	if s.pruneTimer != nil {
		s.pruneTimer.Stop()
		s.pruneTimer = nil
	}
}

func activeIDs(room *model.Room) []string {
	var ids []string
	for _, p := range room.ActiveParticipants() {
		ids = append(ids, p.ID)
	}
	return ids
}
