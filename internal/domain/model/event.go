package model

import "time"

// Event kinds carried by RoomEvent.
const (
	EventRoomUpdated  = "room.updated"
	EventRoomCreated  = "room.created"
	EventHostChanged  = "host.changed"
	EventParticipants = "participants.changed"
)

// RoomEvent is the best-effort notification fanned out after a commit. It is
// a hint to refresh, never the authoritative state.
type RoomEvent struct {
	RoomID  string    // room that changed
	Version int64     // statusVersion after the commit
	Kind    string    // one of the Event* kinds
	At      time.Time // commit time
}
