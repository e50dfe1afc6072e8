package failover

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/logger"
)

// PruneInterval is both the minimum gap between prune requests and how long
// a target stays suppressed after being requested.
const PruneInterval = 30 * time.Second

// Pruner sends one prune request.
type Pruner interface {
	Prune(ctx context.Context, req roomapi.PruneRequest) (roomapi.PruneResponse, error)
}

// OfflinePruner runs on the host. It tracks how long each participant has
// been continuously offline and, on Tick, asks the server to remove everyone
// past the staleness threshold in a single batched request.
type OfflinePruner struct {
	mu sync.Mutex

	client    Pruner
	roomID    string
	self      string
	clock     clock.Clock
	staleness time.Duration
	logger    logger.Logger

	isHost       bool
	offlineSince map[string]time.Time
	suppressed   map[string]time.Time // target -> when it was last requested
	lastRequest  time.Time
}

// PrunerOption configures an OfflinePruner.
type PrunerOption func(*OfflinePruner)

// WithPrunerClock sets the time source.
func WithPrunerClock(c clock.Clock) PrunerOption {
	return func(p *OfflinePruner) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithStaleness sets how long a participant must stay offline. It should
// exceed the failover grace window.
func WithStaleness(d time.Duration) PrunerOption {
	return func(p *OfflinePruner) {
		if d > 0 {
			p.staleness = d
		}
	}
}

// WithPrunerLogger sets the logger.
func WithPrunerLogger(l logger.Logger) PrunerOption {
	return func(p *OfflinePruner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewOfflinePruner returns a pruner acting as self in roomID.
func NewOfflinePruner(client Pruner, roomID, self string, opts ...PrunerOption) *OfflinePruner {
	p := &OfflinePruner{
		client:       client,
		roomID:       roomID,
		self:         self,
		clock:        clock.Real(),
		staleness:    2 * DefaultGrace,
		offlineSince: make(map[string]time.Time),
		suppressed:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("failover")
	}
	return p
}

// Observe updates offline tracking from a snapshot and the online set. When
// presence is unavailable (ok false) all tracking is reset, so an outage of
// the presence feed never prunes anyone.
func (p *OfflinePruner) Observe(room *model.Room, online []string, ok bool) {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isHost = room != nil && room.HostID == p.self
	if !ok || !p.isHost {
		clear(p.offlineSince)
		return
	}
	seen := make(map[string]bool)
	for _, part := range room.ActiveParticipants() {
		if part.ID == p.self {
			continue
		}
		seen[part.ID] = true
		if slices.Contains(online, part.ID) {
			delete(p.offlineSince, part.ID)
			continue
		}
		if _, tracked := p.offlineSince[part.ID]; !tracked {
			p.offlineSince[part.ID] = now
		}
	}
	for id := range p.offlineSince {
		if !seen[id] {
			delete(p.offlineSince, id)
		}
	}
}

// Due returns the targets a Tick at the current time would request.
func (p *OfflinePruner) Due() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dueLocked(p.clock.Now())
}

func (p *OfflinePruner) dueLocked(now time.Time) []string {
	if !p.isHost {
		return nil
	}
	var due []string
	for id, since := range p.offlineSince {
		if now.Sub(since) <= p.staleness {
			continue
		}
		if at, ok := p.suppressed[id]; ok && now.Sub(at) < PruneInterval {
			continue
		}
		due = append(due, id)
	}
	sort.Strings(due)
	return due
}

// Tick sends at most one batched prune request, and none within
// PruneInterval of the previous one. It returns the ids the server removed.
func (p *OfflinePruner) Tick(ctx context.Context, token string) ([]string, error) {
	now := p.clock.Now()
	p.mu.Lock()
	if !p.lastRequest.IsZero() && now.Sub(p.lastRequest) < PruneInterval {
		p.mu.Unlock()
		return nil, nil
	}
	targets := p.dueLocked(now)
	if len(targets) == 0 {
		p.mu.Unlock()
		return nil, nil
	}
	p.lastRequest = now
	for _, id := range targets {
		p.suppressed[id] = now
	}
	for id, at := range p.suppressed {
		if now.Sub(at) >= PruneInterval {
			delete(p.suppressed, id)
		}
	}
	p.mu.Unlock()

	resp, err := p.client.Prune(ctx, roomapi.PruneRequest{
		Token:     token,
		RoomID:    p.roomID,
		CallerUID: p.self,
		Targets:   targets,
	})
	if err != nil {
		p.logger.Warn(ctx, "prune request failed", logger.Room(p.roomID), logger.Strings("targets", targets), logger.Error(err))
		return nil, err
	}

	p.mu.Lock()
	for _, id := range resp.Removed {
		delete(p.offlineSince, id)
	}
	p.mu.Unlock()
	return resp.Removed, nil
}
