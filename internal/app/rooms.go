package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/repository"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/metrics"
)

const (
	maxNameLen  = 40
	maxRoomName = 60
)

func cleanName(name string, limit int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > limit {
		return "", apperr.New(apperr.CodeInvalidPayload, "name must be 1 to "+strconv.Itoa(limit)+" characters")
	}
	return name, nil
}

// CreateRoom opens a room in waiting with the caller as creator, host and
// first participant.
func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (CreateRoomResponse, error) {
	var resp CreateRoomResponse
	err := s.observe(ctx, "createRoom", "", func(ctx context.Context) error {
		caller, err := s.identify(req.Token, "")
		if err != nil {
			return err
		}
		if err := CheckVersion(req.ClientVersion, s.appVersion, ""); err != nil {
			return err
		}
		if !s.allow("create:" + caller.UID) {
			return apperr.New(apperr.CodeRateLimited, "too many rooms created")
		}
		roomName, err := cleanName(req.RoomName, maxRoomName)
		if err != nil {
			return err
		}
		display, err := cleanName(firstNonEmpty(req.DisplayName, caller.Name), maxNameLen)
		if err != nil {
			return err
		}
		opts, err := s.normalizeOptions(req.Options)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		room := &model.Room{
			ID:           uuid.NewString(),
			Name:         roomName,
			Status:       model.StatusWaiting,
			HostID:       caller.UID,
			CreatorID:    caller.UID,
			AppVersion:   canonical(s.appVersion),
			PasswordHash: req.PasswordHash,
			Options:      opts,
			Topic:        defaultTopic(opts.DefaultTopicType),
			Order:        &model.Order{},
			Participants: map[string]*model.Participant{
				caller.UID: {ID: caller.UID, Name: display, JoinedAt: now, LastSeen: now},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.Create(ctx, room); err != nil {
			return storeError(err)
		}
		token, err := s.auth.IssueHostSession(caller.UID, room.ID, s.hostSessionTTL)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "issue host session", err)
		}
		metrics.RecordRoomCreated()
		s.notify(ctx, model.RoomEvent{RoomID: room.ID, Version: 1, Kind: model.EventRoomCreated, At: now})

		room.StatusVersion = 1
		resp = CreateRoomResponse{
			RoomID:           room.ID,
			AppVersion:       room.AppVersion,
			HostSessionToken: token,
			Room:             room.ViewFor(caller.UID),
		}
		return nil
	})
	return resp, err
}

func (s *Service) normalizeOptions(o model.Options) (model.Options, error) {
	switch o.ResolveMode {
	case "":
		o.ResolveMode = model.ResolveSortSubmit
	case model.ResolveSortSubmit, model.ResolveSequential:
	default:
		return o, apperr.New(apperr.CodeInvalidPayload, "unknown resolveMode "+string(o.ResolveMode))
	}
	if o.DealMin == 0 && o.DealMax == 0 {
		o.DealMin, o.DealMax = s.dealMin, s.dealMax
	}
	if o.DealMin > o.DealMax {
		return o, apperr.New(apperr.CodeInvalidPayload, "dealMin exceeds dealMax")
	}
	if o.MaxPlayers < 0 {
		return o, apperr.New(apperr.CodeInvalidPayload, "maxPlayers must not be negative")
	}
	if o.DefaultTopicType != "" && !knownTopicType(o.DefaultTopicType) {
		return o, apperr.New(apperr.CodeInvalidPayload, "unknown topic type "+o.DefaultTopicType)
	}
	return o, nil
}

// JoinRoom adds the caller to a room, or refreshes an existing seat. People
// joining mid-round, or into a full room, sit out as spectators.
func (s *Service) JoinRoom(ctx context.Context, req JoinRoomRequest) (*model.Room, error) {
	out, err := s.run(ctx, command{
		name:   "joinRoom",
		roomID: req.RoomID,
		token:  req.Token,
		event:  model.EventParticipants,
		mutate: func(caller auth.Identity, room *model.Room, now time.Time) error {
			if err := CheckVersion(req.ClientVersion, s.appVersion, room.AppVersion); err != nil {
				return err
			}
			if room.PasswordHash != "" && req.PasswordHash != room.PasswordHash {
				return apperr.New(apperr.CodeForbidden, "wrong room password")
			}
			display, err := cleanName(firstNonEmpty(req.DisplayName, caller.Name), maxNameLen)
			if err != nil {
				return err
			}

			if p, ok := room.Participants[caller.UID]; ok {
				p.Name = display
				p.LastSeen = now
				if p.RemovedAt != nil {
					p.RemovedAt = nil
					p.Spectator = room.Status != model.StatusWaiting
				}
				return nil
			}

			players := 0
			for _, p := range room.ActiveParticipants() {
				if !p.Spectator {
					players++
				}
			}
			full := room.Options.MaxPlayers > 0 && players >= room.Options.MaxPlayers
			room.Participants[caller.UID] = &model.Participant{
				ID:        caller.UID,
				Name:      display,
				Spectator: full || room.Status != model.StatusWaiting,
				JoinedAt:  now,
				LastSeen:  now,
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return out.room.ViewFor(out.caller.UID), nil
}

// Snapshot returns the room as the caller may see it.
func (s *Service) Snapshot(ctx context.Context, token, roomID string) (*model.Room, error) {
	var view *model.Room
	err := s.observe(ctx, "snapshot", roomID, func(ctx context.Context) error {
		caller, err := s.identify(token, roomID)
		if err != nil {
			return err
		}
		room, err := s.store.Get(ctx, roomID)
		if err != nil {
			return storeError(err)
		}
		view = room.ViewFor(caller.UID)
		return nil
	})
	return view, err
}

// View returns the room as viewer may see it without authenticating. The
// websocket hub calls it after verifying the subscriber itself.
func (s *Service) View(ctx context.Context, roomID, viewer string) (*model.Room, error) {
	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, storeError(err)
	}
	return room.ViewFor(viewer), nil
}

// Identify verifies token for roomID.
func (s *Service) Identify(token, roomID string) (auth.Identity, error) {
	return s.identify(token, roomID)
}

// Heartbeat records presence without taking the room lock and schedules a
// throttled lastSeen write for the caller.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := s.observe(ctx, "heartbeat", req.RoomID, func(ctx context.Context) error {
		caller, err := s.identify(req.Token, req.RoomID)
		if err != nil {
			return err
		}
		room, err := s.store.Get(ctx, req.RoomID)
		if err != nil {
			return storeError(err)
		}
		if _, ok := room.Participant(caller.UID); !ok {
			return apperr.New(apperr.CodeForbidden, "not a participant of this room")
		}

		at := req.At.Time()
		if now := s.clock.Now(); at.IsZero() || at.After(now) {
			at = now
		}
		s.presence.Record(req.RoomID, caller.UID, req.Connected, at)
		if req.Connected {
			s.scheduleTouch(req.RoomID, caller.UID)
		}

		online, ok := s.presence.Online(req.RoomID)
		resp = HeartbeatResponse{Online: online, Degraded: !ok}
		return nil
	})
	return resp, err
}

// scheduleTouch writes lastSeen for uid at most once per touch interval.
func (s *Service) scheduleTouch(roomID, uid string) {
	s.scheduler.Enqueue(roomID+"/"+uid, func() {
		ctx := context.Background()
		_, _, err := s.transact(ctx, roomID, func(r *model.Room, now time.Time) error {
			p, ok := r.Participant(uid)
			if !ok || !now.After(p.LastSeen) {
				return repository.ErrNoChange
			}
			p.LastSeen = now
			return nil
		})
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn(ctx, "lastSeen write failed", logger.Room(roomID), logger.User(uid), logger.Error(err))
		}
	}, s.touchInterval)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
