package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/repository"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/dealing"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
	"github.com/okian/roomsync/pkg/metrics"
)

const maxClueLen = 120

// DealSeed derives the seed of a round. Replaying it through
// dealing.GenerateDeterministicNumbers reproduces the deal.
func DealSeed(roomID string, round int, requestID string) string {
	return fmt.Sprintf("%s:%d:%s", roomID, round, requestID)
}

// Deal starts a round: it picks the target players, deals their values and
// moves the room to clue-collection. A repeated requestId is answered with
// the committed deal.
func (s *Service) Deal(ctx context.Context, req DealRequest) (*model.Room, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out, err := s.run(ctx, command{
		name:      "dealCommand",
		roomID:    req.RoomID,
		token:     req.Token,
		requestID: req.RequestID,
		event:     model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, now time.Time) error {
			if err := requireHost(room, caller.UID); err != nil {
				return err
			}
			if room.DealRequestID == requestID {
				return repository.ErrNoChange
			}
			if room.Status != model.StatusWaiting {
				return invalidStatus(room, "dealing")
			}

			var candidates []dealing.Candidate
			for _, p := range room.ActiveParticipants() {
				if !p.Spectator {
					candidates = append(candidates, dealing.Candidate{ID: p.ID, LastSeen: p.LastSeen})
				}
			}
			var hint dealing.PresenceHint
			if online, ok := s.presence.Online(room.ID); ok {
				hint.Online = online
			}
			targets := dealing.SelectDealTargetPlayersWithin(candidates, hint, now, s.activityWindow)
			if len(targets) == 0 {
				return apperr.New(apperr.CodeNoPlayers, "no eligible players to deal to")
			}

			ids := make([]string, len(targets))
			for i, t := range targets {
				ids[i] = t.ID
			}
			round := room.Round + 1
			seed := DealSeed(room.ID, round, requestID)
			lo, hi := room.Options.DealMin, room.Options.DealMax
			values := dealing.GenerateDeterministicNumbers(len(ids), lo, hi, seed)
			payload := dealing.BuildDealPayload(ids, seed, lo, hi, values)
			if len(payload.Players) == 0 {
				return apperr.New(apperr.CodeNoPlayers, "deal range holds no values")
			}

			var prevSeats map[string]int
			if room.Deal != nil {
				prevSeats = room.Deal.SeatHistory
			}
			room.Deal = &model.Deal{
				Seed:        payload.Seed,
				Min:         payload.Min,
				Max:         payload.Max,
				Players:     payload.Players,
				Numbers:     payload.Numbers,
				SeatHistory: dealing.MergeSeatHistory(prevSeats, payload.SeatHistory),
			}
			for id, p := range room.Participants {
				p.Clue, p.Ready, p.Number = "", false, nil
				if n, ok := payload.Numbers[id]; ok {
					p.Number = model.IntPtr(n)
				}
			}
			room.Round = round
			room.Status = model.StatusClueCollection
			room.DealRequestID = requestID
			room.Order = &model.Order{Total: len(payload.Players)}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if out.changed {
		metrics.RecordDeal()
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// dealtPlayer returns the caller's seat when they hold a value this round.
func dealtPlayer(room *model.Room, uid string) (*model.Participant, error) {
	p, err := requireParticipant(room, uid)
	if err != nil {
		return nil, err
	}
	if room.Deal == nil {
		return nil, apperr.New(apperr.CodeForbidden, "no deal in progress")
	}
	if _, ok := room.Deal.Numbers[uid]; !ok {
		return nil, apperr.New(apperr.CodeForbidden, "not dealt into this round")
	}
	return p, nil
}

// SubmitClue sets the caller's clue for the round.
func (s *Service) SubmitClue(ctx context.Context, req ClueRequest) (*model.Room, error) {
	clue := strings.TrimSpace(req.Clue)
	out, err := s.run(ctx, command{
		name:   "submitClue",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if room.Status != model.StatusClueCollection {
				return invalidStatus(room, "submitting a clue")
			}
			p, err := dealtPlayer(room, caller.UID)
			if err != nil {
				return err
			}
			if utf8.RuneCountInString(clue) > maxClueLen {
				return apperr.New(apperr.CodeInvalidPayload, "clue is too long")
			}
			if p.Clue == clue {
				return repository.ErrNoChange
			}
			p.Clue = clue
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// SetReady flags the caller as done with their clue.
func (s *Service) SetReady(ctx context.Context, req ReadyRequest) (*model.Room, error) {
	out, err := s.run(ctx, command{
		name:   "setReady",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if room.Status != model.StatusClueCollection {
				return invalidStatus(room, "setting ready")
			}
			p, err := dealtPlayer(room, caller.UID)
			if err != nil {
				return err
			}
			if p.Ready == req.Ready {
				return repository.ErrNoChange
			}
			p.Ready = req.Ready
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// proposalTarget checks that caller may move playerID's card.
func proposalTarget(room *model.Room, caller, playerID string) error {
	if room.Status != model.StatusClueCollection {
		return invalidStatus(room, "editing the proposal")
	}
	if room.Options.ResolveMode == model.ResolveSequential {
		return apperr.New(apperr.CodeInvalidPayload, "room resolves sequentially")
	}
	if _, err := requireParticipant(room, caller); err != nil {
		return err
	}
	if room.Deal == nil {
		return apperr.New(apperr.CodeInvalidPayload, "no deal in progress")
	}
	if _, ok := room.Deal.Numbers[playerID]; !ok {
		return apperr.New(apperr.CodeInvalidPayload, "player "+playerID+" holds no card")
	}
	if caller != playerID && !room.IsHostOrCreator(caller) {
		return apperr.New(apperr.CodeForbidden, "only the card owner or the host can move it")
	}
	return nil
}

// ProposalInsert places a card into an empty slot. A taken slot, or a card
// already placed, reports StatusNoop and commits nothing.
func (s *Service) ProposalInsert(ctx context.Context, req ProposalRequest) (ProposalResponse, error) {
	var res proposal.InsertResult
	out, err := s.run(ctx, command{
		name:   "proposalInsert",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if err := proposalTarget(room, caller.UID, req.PlayerID); err != nil {
				return err
			}
			res = proposal.PrepareProposalInsert(room.Order.Proposal, req.PlayerID, room.Order.Total, req.TargetIndex)
			if res.Status == proposal.StatusNoop {
				return repository.ErrNoChange
			}
			room.Order.Proposal = res.Next
			return nil
		},
	})
	if err != nil {
		return ProposalResponse{}, err
	}
	if out.replay || res.Status == "" {
		res = proposal.InsertResult{Status: proposal.StatusNoop, Index: -1}
	}
	return ProposalResponse{Status: res.Status, Index: res.Index, Room: out.room.ViewFor(out.caller.UID)}, nil
}

// ProposalRemove empties the slot holding a card.
func (s *Service) ProposalRemove(ctx context.Context, req ProposalRequest) (ProposalResponse, error) {
	status := proposal.StatusNoop
	out, err := s.run(ctx, command{
		name:   "proposalRemove",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if err := proposalTarget(room, caller.UID, req.PlayerID); err != nil {
				return err
			}
			next, removed := proposal.RemoveFromProposal(room.Order.Proposal, req.PlayerID, room.Order.Total)
			if !removed {
				return repository.ErrNoChange
			}
			room.Order.Proposal = next
			status = proposal.StatusOK
			return nil
		},
	})
	if err != nil {
		return ProposalResponse{}, err
	}
	return ProposalResponse{Status: status, Index: -1, Room: out.room.ViewFor(out.caller.UID)}, nil
}

// SubmitOrder evaluates a full order and moves the room to revealing.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*model.Room, error) {
	var revealed *proposal.RevealOutcome
	out, err := s.run(ctx, command{
		name:      "submitOrder",
		roomID:    req.RoomID,
		token:     req.Token,
		requestID: req.RequestID,
		event:     model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if _, err := requireParticipant(room, caller.UID); err != nil {
				return err
			}
			if req.RequestID != "" && room.Order != nil && room.Order.SubmitRequestID == req.RequestID {
				return repository.ErrNoChange
			}
			if room.Status != model.StatusClueCollection {
				return invalidStatus(room, "submitting the order")
			}
			if room.Options.ResolveMode == model.ResolveSequential {
				return apperr.New(apperr.CodeInvalidPayload, "room resolves sequentially")
			}
			if room.Deal == nil {
				return apperr.New(apperr.CodeInvalidPayload, "no deal in progress")
			}
			if err := proposal.ValidateSubmitList(req.List, room.Deal.Players); err != nil {
				return err
			}
			o := proposal.BuildRevealOutcomePayload(req.List, room.Deal.Numbers, room.Order.Total, room.Stats)
			o.Apply(room.Order)
			room.Order.Proposal = append(model.Proposal(nil), req.List...)
			room.Order.SubmitRequestID = req.RequestID
			room.Stats = o.Stats
			room.Status = model.StatusRevealing
			revealed = &o
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if out.changed && revealed != nil {
		metrics.RecordReveal(revealed.Success)
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// CommitPlayFromClue appends one card to the sequential order. The round
// moves to revealing once every dealt card is down; a failure latches at the
// first inversion and play continues.
func (s *Service) CommitPlayFromClue(ctx context.Context, req CommitPlayRequest) (*model.Room, error) {
	var revealed *proposal.RevealOutcome
	out, err := s.run(ctx, command{
		name:      "commitPlayFromClue",
		roomID:    req.RoomID,
		token:     req.Token,
		requestID: req.RequestID,
		event:     model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if _, err := requireParticipant(room, caller.UID); err != nil {
				return err
			}
			if req.RequestID != "" && room.Order != nil && slices.Contains(room.Order.PlayRequestIDs, req.RequestID) {
				return repository.ErrNoChange
			}
			if room.Status != model.StatusClueCollection {
				return invalidStatus(room, "playing a card")
			}
			if room.Options.ResolveMode != model.ResolveSequential {
				return apperr.New(apperr.CodeInvalidPayload, "room resolves by submitting the order")
			}
			if room.Deal == nil {
				return apperr.New(apperr.CodeInvalidPayload, "no deal in progress")
			}
			if _, ok := room.Deal.Numbers[req.PlayerID]; !ok {
				return apperr.New(apperr.CodeInvalidPayload, "player "+req.PlayerID+" holds no card")
			}
			if caller.UID != req.PlayerID && !room.IsHostOrCreator(caller.UID) {
				return apperr.New(apperr.CodeForbidden, "only the card owner or the host can play it")
			}
			for _, id := range room.Order.List {
				if id == req.PlayerID {
					return repository.ErrNoChange
				}
			}

			list := append(append([]string(nil), room.Order.List...), req.PlayerID)
			o := proposal.BuildRevealOutcomePayload(list, room.Deal.Numbers, room.Order.Total, room.Stats)
			o.Apply(room.Order)
			if req.RequestID != "" {
				room.Order.PlayRequestIDs = append(room.Order.PlayRequestIDs, req.RequestID)
			}
			if o.Complete {
				room.Stats = o.Stats
				room.Status = model.StatusRevealing
				revealed = &o
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if out.changed && revealed != nil {
		metrics.RecordReveal(revealed.Success)
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// FinalizeReveal closes a revealed round.
func (s *Service) FinalizeReveal(ctx context.Context, req RoomRequest) (*model.Room, error) {
	out, err := s.run(ctx, command{
		name:   "finalizeReveal",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if err := requireHost(room, caller.UID); err != nil {
				return err
			}
			switch room.Status {
			case model.StatusFinished:
				return repository.ErrNoChange
			case model.StatusRevealing:
				room.Status = model.StatusFinished
				return nil
			default:
				return invalidStatus(room, "finishing the reveal")
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// ResetRoom returns the room to waiting from any state and clears every
// per-round field. A repeated requestId commits nothing.
func (s *Service) ResetRoom(ctx context.Context, req ResetRequest) (*model.Room, error) {
	out, err := s.run(ctx, command{
		name:      "resetRoomCommand",
		roomID:    req.RoomID,
		token:     req.Token,
		requestID: req.RequestID,
		event:     model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if err := requireHost(room, caller.UID); err != nil {
				return err
			}
			if req.RequestID != "" && room.ResetRequestID == req.RequestID {
				return repository.ErrNoChange
			}
			room.Status = model.StatusWaiting
			room.Order = &model.Order{}
			if room.Deal != nil {
				room.Deal = &model.Deal{SeatHistory: room.Deal.SeatHistory}
			}
			for _, p := range room.Participants {
				p.Number, p.Clue, p.Ready = nil, "", false
				if req.RecallSpectators && p.Active() {
					p.Spectator = false
				}
			}
			room.ResetRequestID = req.RequestID
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// Topic changes the round topic before values are revealed.
func (s *Service) Topic(ctx context.Context, req TopicRequest) (*model.Room, error) {
	out, err := s.run(ctx, command{
		name:   "topicCommand",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventRoomUpdated,
		mutate: func(caller auth.Identity, room *model.Room, _ time.Time) error {
			if err := requireHost(room, caller.UID); err != nil {
				return err
			}
			if !room.Status.In(model.StatusWaiting, model.StatusClueCollection) {
				return invalidStatus(room, "changing the topic")
			}
			current := room.Topic
			if current == nil {
				current = defaultTopic(room.Options.DefaultTopicType)
			}

			var next *model.Topic
			switch req.Action {
			case TopicSelect:
				if !knownTopicType(req.Type) {
					return apperr.New(apperr.CodeInvalidPayload, "unknown topic type "+req.Type)
				}
				next = pickTopic(req.Type, current.Text, topicSeed(room))
			case TopicShuffle:
				t := current.Type
				if !knownTopicType(t) {
					t = defaultTopicType
				}
				next = pickTopic(t, current.Text, topicSeed(room))
			case TopicCustom:
				text := strings.TrimSpace(req.Text)
				if text == "" || utf8.RuneCountInString(text) > maxClueLen {
					return apperr.New(apperr.CodeInvalidPayload, "custom topic must be 1 to 120 characters")
				}
				next = &model.Topic{Type: "custom", Text: text, Custom: true}
			case TopicReset:
				next = defaultTopic(room.Options.DefaultTopicType)
			default:
				return apperr.New(apperr.CodeInvalidPayload, "unknown topic action "+req.Action)
			}
			if room.Topic != nil && *room.Topic == *next {
				return repository.ErrNoChange
			}
			room.Topic = next
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}
