package service

import (
	"context"
	"time"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/repository"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/proposal"
	"github.com/okian/roomsync/pkg/metrics"
)

// hostVacant reports whether the host seat may be claimed: nobody holds it,
// the holder left the room, or the holder has been offline for longer than
// the grace window. Presence is preferred; while it is degraded or silent the
// host's recorded lastSeen decides.
func (s *Service) hostVacant(room *model.Room, now time.Time) bool {
	if room.HostID == "" {
		return true
	}
	host, ok := room.Participant(room.HostID)
	if !ok {
		return true
	}
	st := s.presence.Lookup(room.ID, room.HostID)
	if st.Known {
		return !st.Online && now.Sub(st.LastSeen) > s.hostGrace
	}
	last := host.LastSeen
	if st.LastSeen.After(last) {
		last = st.LastSeen
	}
	return now.Sub(last) > s.hostGrace
}

// ClaimHost moves the host seat to the caller when it is vacant. Concurrent
// claims serialize on the room lock, so exactly one wins; the others see the
// seat taken and get forbidden. Claiming a seat already held is a no-op.
func (s *Service) ClaimHost(ctx context.Context, req ClaimHostRequest) (ClaimHostResponse, error) {
	out, err := s.run(ctx, command{
		name:   "claimHost",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventHostChanged,
		mutate: func(caller auth.Identity, room *model.Room, now time.Time) error {
			if req.UID != "" && req.UID != caller.UID {
				return apperr.New(apperr.CodeForbidden, "uid does not match the token")
			}
			p, err := requireParticipant(room, caller.UID)
			if err != nil {
				return err
			}
			if room.HostID == caller.UID {
				return repository.ErrNoChange
			}
			if !s.hostVacant(room, now) {
				return apperr.New(apperr.CodeForbidden, "host seat is taken")
			}
			room.HostID = caller.UID
			p.LastSeen = now
			return nil
		},
	})
	metrics.RecordHostClaim(codeLabel(err))
	if err != nil {
		return ClaimHostResponse{}, err
	}
	token, err := s.auth.IssueHostSession(out.caller.UID, req.RoomID, s.hostSessionTTL)
	if err != nil {
		return ClaimHostResponse{}, apperr.Wrap(apperr.CodeInternal, "issue host session", err)
	}
	return ClaimHostResponse{
		HostID:           out.room.HostID,
		HostSessionToken: token,
		Room:             out.room.ViewFor(out.caller.UID),
	}, nil
}

// Prune soft-deletes participants on behalf of the host. Unknown and already
// removed targets are skipped. Pruning mid-round withdraws the
// target's card so the round can still complete. The host cannot be pruned.
func (s *Service) Prune(ctx context.Context, req PruneRequest) (PruneResponse, error) {
	var removed []string
	out, err := s.run(ctx, command{
		name:   "prune",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventParticipants,
		mutate: func(caller auth.Identity, room *model.Room, now time.Time) error {
			if req.CallerUID != "" && req.CallerUID != caller.UID {
				return apperr.New(apperr.CodeForbidden, "callerUid does not match the token")
			}
			if err := requireHost(room, caller.UID); err != nil {
				return err
			}
			removed = removed[:0]
			for _, id := range req.Targets {
				p, ok := room.Participant(id)
				if !ok || id == caller.UID || id == room.HostID {
					continue
				}
				at := now
				p.RemovedAt = &at
				p.Ready = false
				withdrawCard(room, id)
				removed = append(removed, id)
			}
			if len(removed) == 0 {
				return repository.ErrNoChange
			}
			return nil
		},
	})
	if err != nil {
		return PruneResponse{}, err
	}
	if !out.changed {
		removed = nil
	}
	metrics.RecordPruneRemovals(len(removed))
	return PruneResponse{Removed: append([]string{}, removed...), Room: out.room.ViewFor(out.caller.UID)}, nil
}

// withdrawCard takes id out of an unrevealed round.
func withdrawCard(room *model.Room, id string) {
	if room.Status != model.StatusClueCollection || room.Deal == nil {
		return
	}
	if _, ok := room.Deal.Numbers[id]; !ok {
		return
	}
	for _, placed := range room.Order.List {
		if placed == id {
			return
		}
	}
	delete(room.Deal.Numbers, id)
	players := room.Deal.Players[:0]
	for _, pid := range room.Deal.Players {
		if pid != id {
			players = append(players, pid)
		}
	}
	room.Deal.Players = players
	room.Order.Total = len(players)
	// drop the slot so later cards keep their relative order within Total
	slots := room.Order.Proposal[:0]
	for _, pid := range room.Order.Proposal {
		if pid != id {
			slots = append(slots, pid)
		}
	}
	room.Order.Proposal = model.Proposal(proposal.NormalizeProposal(slots, room.Order.Total))
	if p := room.Participants[id]; p != nil {
		p.Number = nil
	}

	if room.Options.ResolveMode == model.ResolveSequential && len(room.Order.List) > 0 && len(room.Order.List) >= room.Order.Total {
		o := proposal.BuildRevealOutcomePayload(room.Order.List, room.Deal.Numbers, room.Order.Total, room.Stats)
		o.Apply(room.Order)
		room.Stats = o.Stats
		room.Status = model.StatusRevealing
	}
}

func codeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.CodeOf(err))
}
