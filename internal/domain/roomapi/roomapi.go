// Package roomapi holds the request and response bodies of the room
// commands, shared by the server and its clients.
package roomapi

import (
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
)

// CreateRoomRequest opens a new room with the caller as host.
type CreateRoomRequest struct {
	Token         string        `json:"token"`
	RoomName      string        `json:"roomName"`
	DisplayName   string        `json:"displayName"`
	Options       model.Options `json:"options"`
	PasswordHash  string        `json:"passwordHash,omitempty"`
	ClientVersion string        `json:"clientVersion"`
}

// CreateRoomResponse carries the new room id and a host session token.
type CreateRoomResponse struct {
	RoomID           string      `json:"roomId"`
	AppVersion       string      `json:"appVersion"`
	HostSessionToken string      `json:"hostSessionToken"`
	Room             *model.Room `json:"room"`
}

// JoinRoomRequest adds the caller to a room.
type JoinRoomRequest struct {
	Token         string `json:"token"`
	RoomID        string `json:"roomId"`
	DisplayName   string `json:"displayName"`
	PasswordHash  string `json:"passwordHash,omitempty"`
	ClientVersion string `json:"clientVersion"`
}

// DealRequest starts a round.
type DealRequest struct {
	Token     string `json:"token"`
	RoomID    string `json:"roomId"`
	RequestID string `json:"requestId,omitempty"`
}

// ClueRequest sets the caller's clue.
type ClueRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
	Clue   string `json:"clue"`
}

// ReadyRequest sets the caller's ready flag.
type ReadyRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
	Ready  bool   `json:"ready"`
}

// ProposalRequest places or removes a card in the shared proposal.
// TargetIndex -1 means the first empty slot.
type ProposalRequest struct {
	Token       string `json:"token"`
	RoomID      string `json:"roomId"`
	PlayerID    string `json:"playerId"`
	TargetIndex int    `json:"targetIndex"`
}

// ProposalResponse reports whether the proposal changed.
type ProposalResponse struct {
	Status proposal.InsertStatus `json:"status"`
	Index  int                   `json:"index"`
	Room   *model.Room           `json:"room"`
}

// SubmitOrderRequest submits the whole order for evaluation.
type SubmitOrderRequest struct {
	Token     string   `json:"token"`
	RoomID    string   `json:"roomId"`
	List      []string `json:"list"`
	RequestID string   `json:"requestId,omitempty"`
}

// CommitPlayRequest places one card at the end of the sequential order.
type CommitPlayRequest struct {
	Token     string `json:"token"`
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	RequestID string `json:"requestId,omitempty"`
}

// RoomRequest is a bare command against a room.
type RoomRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
}

// ResetRequest returns the room to waiting.
type ResetRequest struct {
	Token            string `json:"token"`
	RoomID           string `json:"roomId"`
	RequestID        string `json:"requestId,omitempty"`
	RecallSpectators bool   `json:"recallSpectators"`
}

// Topic actions.
const (
	TopicSelect  = "select"
	TopicShuffle = "shuffle"
	TopicCustom  = "custom"
	TopicReset   = "reset"
)

// TopicRequest changes the round topic.
type TopicRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
	Action string `json:"action"`
	Type   string `json:"type,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ClaimHostRequest asks for the host seat.
type ClaimHostRequest struct {
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
	UID    string `json:"uid"`
}

// ClaimHostResponse carries the new host session.
type ClaimHostResponse struct {
	HostID           string      `json:"hostId"`
	HostSessionToken string      `json:"hostSessionToken"`
	Room             *model.Room `json:"room"`
}

// PruneRequest removes offline participants.
type PruneRequest struct {
	Token     string   `json:"token"`
	RoomID    string   `json:"roomId"`
	CallerUID string   `json:"callerUid"`
	Targets   []string `json:"targets"`
}

// PruneResponse lists who was removed.
type PruneResponse struct {
	Removed []string    `json:"removed"`
	Room    *model.Room `json:"room"`
}

// HeartbeatRequest reports the caller's connection state.
type HeartbeatRequest struct {
	Token     string          `json:"token"`
	RoomID    string          `json:"roomId"`
	Connected bool            `json:"connected"`
	At        model.Timestamp `json:"at"`
}

// HeartbeatResponse is the presence view after recording.
type HeartbeatResponse struct {
	Online   []string `json:"online"`
	Degraded bool     `json:"degraded"`
}

// Feed frame types.
const (
	FrameSnapshot = "snapshot"
	FramePresence = "presence"
)

// Frame is one message of the realtime room feed.
type Frame struct {
	Type     string      `json:"type"`
	Version  int64       `json:"version,omitempty"`
	Room     *model.Room `json:"room,omitempty"`
	Online   []string    `json:"online,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
}
