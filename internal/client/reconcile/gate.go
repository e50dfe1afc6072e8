package reconcile

import "sync"

// VersionGate admits snapshots whose statusVersion is at least the highest
// seen so far. Equal versions pass so a redelivered snapshot is harmless.
type VersionGate struct {
	mu      sync.Mutex
	highest int64
	seen    bool
}

// Accept reports whether version may replace the current snapshot and, if
// so, records it.
func (g *VersionGate) Accept(version int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen && version < g.highest {
		return false
	}
	g.highest = version
	g.seen = true
	return true
}

// Highest returns the highest accepted version.
func (g *VersionGate) Highest() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highest
}

// Reset forgets every version, for switching rooms.
func (g *VersionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.highest, g.seen = 0, false
}
