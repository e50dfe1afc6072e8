package service

import "github.com/okian/roomsync/internal/domain/roomapi"

// Command bodies are defined in roomapi so clients need not import the service.
type (
	CreateRoomRequest  = roomapi.CreateRoomRequest
	CreateRoomResponse = roomapi.CreateRoomResponse
	JoinRoomRequest    = roomapi.JoinRoomRequest
	DealRequest        = roomapi.DealRequest
	ClueRequest        = roomapi.ClueRequest
	ReadyRequest       = roomapi.ReadyRequest
	ProposalRequest    = roomapi.ProposalRequest
	ProposalResponse   = roomapi.ProposalResponse
	SubmitOrderRequest = roomapi.SubmitOrderRequest
	CommitPlayRequest  = roomapi.CommitPlayRequest
	RoomRequest        = roomapi.RoomRequest
	ResetRequest       = roomapi.ResetRequest
	TopicRequest       = roomapi.TopicRequest
	ClaimHostRequest   = roomapi.ClaimHostRequest
	ClaimHostResponse  = roomapi.ClaimHostResponse
	PruneRequest       = roomapi.PruneRequest
	PruneResponse      = roomapi.PruneResponse
	HeartbeatRequest   = roomapi.HeartbeatRequest
	HeartbeatResponse  = roomapi.HeartbeatResponse
)

// Topic actions.
const (
	TopicSelect  = roomapi.TopicSelect
	TopicShuffle = roomapi.TopicShuffle
	TopicCustom  = roomapi.TopicCustom
	TopicReset   = roomapi.TopicReset
)
