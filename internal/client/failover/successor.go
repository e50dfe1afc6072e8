package failover

import (
	"slices"

	"github.com/okian/roomsync/internal/domain/model"
)

// Successor picks the participant expected to claim a vacant host seat: the
// longest-seated active player who is online, excluding the current host.
// Spectators are picked only when no player qualifies. A nil online set means
// presence is unknown and every active participant counts. It returns "" when
// nobody qualifies.
func Successor(room *model.Room, online []string) string {
	if room == nil {
		return ""
	}
	var fallback string
	for _, p := range room.ActiveParticipants() {
		if p.ID == room.HostID {
			continue
		}
		if online != nil && !slices.Contains(online, p.ID) {
			continue
		}
		if !p.Spectator {
			return p.ID
		}
		if fallback == "" {
			fallback = p.ID
		}
	}
	return fallback
}

// Eligible reports whether self should attempt a claim: the last known host
// reclaiming the seat, the designated successor, or anyone when no successor
// can be determined. The server still decides; this only avoids a stampede.
func Eligible(room *model.Room, online []string, self, lastHost string) bool {
	if room == nil || self == "" {
		return false
	}
	p, ok := room.Participant(self)
	if !ok || !p.Active() {
		return false
	}
	if self == lastHost {
		return true
	}
	successor := Successor(room, online)
	return successor == "" || successor == self
}
