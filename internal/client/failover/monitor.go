// Package failover is the client half of host failover: it classifies the
// host from presence and room snapshots, picks who should claim a vacant
// seat, retries the claim, and lets the host prune participants who stay
// offline.
package failover

import (
	"slices"
	"sync"
	"time"

	"github.com/okian/roomsync/pkg/clock"
)

// DefaultGrace is how long the host may be missing before it is considered
// likely unavailable.
const DefaultGrace = 8 * time.Second

// HostStatus classifies the current host.
type HostStatus string

const (
	HostAvailable         HostStatus = "available"
	HostLikelyUnavailable HostStatus = "likely-unavailable"
	HostVacant            HostStatus = "vacant"
	// HostDegraded means presence is unavailable; the room stays operable
	// and no failover is attempted.
	HostDegraded HostStatus = "degraded"
)

// Claimable reports whether s warrants a claim attempt.
func (s HostStatus) Claimable() bool {
	return s == HostLikelyUnavailable || s == HostVacant
}

// HostMonitor debounces host absence: the host must stay out of the online
// set for the whole grace window before it is reported likely unavailable.
type HostMonitor struct {
	mu sync.Mutex

	clock    clock.Clock
	grace    time.Duration
	onChange func(HostStatus)

	hostID   string
	active   []string
	online   []string
	degraded bool
	expired  bool // host stayed absent for the whole window

	status HostStatus
	timer  clock.Timer
	gen    uint64
	closed bool
}

// MonitorOption configures a HostMonitor.
type MonitorOption func(*HostMonitor)

// WithMonitorClock sets the timer source.
func WithMonitorClock(c clock.Clock) MonitorOption {
	return func(m *HostMonitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithGrace sets the debounce window.
func WithGrace(d time.Duration) MonitorOption {
	return func(m *HostMonitor) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithOnChange is called, outside the monitor lock, on every classification change.
func WithOnChange(fn func(HostStatus)) MonitorOption {
	return func(m *HostMonitor) {
		m.onChange = fn
	}
}

// NewHostMonitor starts in the degraded state until both inputs arrive.
func NewHostMonitor(opts ...MonitorOption) *HostMonitor {
	m := &HostMonitor{
		clock:    clock.Real(),
		grace:    DefaultGrace,
		status:   HostDegraded,
		degraded: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ObserveRoom records the host id and the active participant ids from a snapshot.
func (m *HostMonitor) ObserveRoom(hostID string, active []string) {
	m.mu.Lock()
	if m.hostID != hostID {
		m.expired = false
		m.stopTimerLocked()
	}
	m.hostID = hostID
	m.active = slices.Clone(active)
	fn, st := m.evaluateLocked()
	m.mu.Unlock()
	notify(fn, st)
}

// ObservePresence records the online set. ok false means the presence feed is
// unavailable.
func (m *HostMonitor) ObservePresence(online []string, ok bool) {
	m.mu.Lock()
	m.online = slices.Clone(online)
	m.degraded = !ok
	fn, st := m.evaluateLocked()
	m.mu.Unlock()
	notify(fn, st)
}

// Status returns the current classification.
func (m *HostMonitor) Status() HostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close cancels the debounce timer. Later observations are ignored.
func (m *HostMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopTimerLocked()
}

func notify(fn func(HostStatus), st HostStatus) {
	if fn != nil {
		fn(st)
	}
}

func (m *HostMonitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

// evaluateLocked recomputes the status and returns the change callback to
// run after unlocking, if the status changed.
func (m *HostMonitor) evaluateLocked() (func(HostStatus), HostStatus) {
	if m.closed {
		return nil, m.status
	}
	var next HostStatus
	switch {
	case m.hostID == "" || !slices.Contains(m.active, m.hostID):
		m.stopTimerLocked()
		next = HostVacant
	case m.degraded:
		m.stopTimerLocked()
		m.expired = false
		next = HostDegraded
	case slices.Contains(m.online, m.hostID):
		m.stopTimerLocked()
		m.expired = false
		next = HostAvailable
	case m.expired:
		next = HostLikelyUnavailable
	default:
		if m.timer == nil {
			m.gen++
			gen := m.gen
			m.timer = m.clock.AfterFunc(m.grace, func() { m.expire(gen) })
		}
		// Absent but still inside the window.
		next = HostAvailable
	}
	if next == m.status {
		return nil, next
	}
	m.status = next
	return m.onChange, next
}

func (m *HostMonitor) expire(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.expired = true
	fn, st := m.evaluateLocked()
	m.mu.Unlock()
	notify(fn, st)
}
