package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/lock"
	"github.com/okian/roomsync/internal/adapters/repository"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/dedupe"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/metrics"
	"github.com/okian/roomsync/pkg/tracing"
)

// mutation edits the room inside a transaction on behalf of caller.
type mutation func(caller auth.Identity, room *model.Room, now time.Time) error

// command describes one transactional room mutation.
type command struct {
	name      string
	roomID    string
	token     string
	requestID string // optional; a committed duplicate is answered from current state
	event     string // notification kind; empty sends none
	mutate    mutation
}

// outcome is what a command committed.
type outcome struct {
	room    *model.Room
	caller  auth.Identity
	changed bool
	replay  bool
}

// observe wraps fn with a span, a latency metric and a log line.
func (s *Service) observe(ctx context.Context, name, roomID string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.Tracer().Start(ctx, "command."+name,
		trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	code := "ok"
	if err != nil {
		code = string(apperr.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	span.SetAttributes(attribute.String("command.code", code))
	metrics.RecordCommand(name, code, float64(time.Since(start).Microseconds())/1000)

	switch {
	case err == nil:
		s.logger.Debug(ctx, "command applied", logger.String("command", name), logger.Room(roomID))
	case apperr.CodeOf(err) == apperr.CodeInternal:
		s.logger.Error(ctx, "command failed", logger.String("command", name), logger.Room(roomID), logger.Error(err))
	default:
		s.logger.Warn(ctx, "command rejected", logger.String("command", name), logger.Room(roomID), logger.String("code", code))
	}
	return err
}

// run executes cmd: authenticate, spend rate budget, take the room lock and
// apply the mutation in one store transaction. The lock is released on every
// path. A committed change is announced best effort.
//
// Request ids are deduplicated per caller under the room lock and recorded
// only once the store accepted the transaction, so a duplicate racing a
// first attempt that later fails is applied rather than answered.
func (s *Service) run(ctx context.Context, cmd command) (outcome, error) {
	var out outcome
	err := s.observe(ctx, cmd.name, cmd.roomID, func(ctx context.Context) error {
		caller, err := s.identify(cmd.token, cmd.roomID)
		if err != nil {
			return err
		}
		out.caller = caller
		if strings.TrimSpace(cmd.roomID) == "" {
			return apperr.New(apperr.CodeInvalidPayload, "roomId is required")
		}
		if !s.allow(cmd.roomID) {
			return apperr.New(apperr.CodeRateLimited, "room command budget exceeded")
		}

		room, changed, replay, err := s.apply(ctx, cmd, caller)
		if err != nil {
			return err
		}
		if replay {
			metrics.RecordCommandReplay(cmd.name)
			out.room, out.replay = room, true
			return nil
		}
		out.room, out.changed = room, changed
		if !changed {
			metrics.RecordCommandNoop(cmd.name)
			return nil
		}
		if cmd.event != "" {
			s.notify(ctx, model.RoomEvent{RoomID: room.ID, Version: room.StatusVersion, Kind: cmd.event, At: room.UpdatedAt})
		}
		return nil
	})
	return out, err
}

// apply runs cmd's mutation under the room lock. A request id the caller
// already committed short-circuits to the current room.
func (s *Service) apply(ctx context.Context, cmd command, caller auth.Identity) (*model.Room, bool, bool, error) {
	release, err := s.lockRoom(ctx, cmd.roomID)
	if err != nil {
		return nil, false, false, err
	}
	defer release()

	var key string
	if cmd.requestID != "" {
		key = dedupe.Key(cmd.roomID, cmd.name+":"+caller.UID+":"+cmd.requestID)
		if s.deduper.Seen(ctx, key) {
			room, err := s.store.Get(ctx, cmd.roomID)
			if err != nil {
				return nil, false, false, storeError(err)
			}
			return room, false, true, nil
		}
	}
	room, changed, err := s.update(ctx, cmd.roomID, func(r *model.Room, now time.Time) error {
		return cmd.mutate(caller, r, now)
	})
	if err != nil {
		return nil, false, false, err
	}
	if key != "" {
		s.deduper.SeenAndRecord(ctx, key)
	}
	return room, changed, false, nil
}

// transact holds the room lock around one store Update.
func (s *Service) transact(ctx context.Context, roomID string, fn func(r *model.Room, now time.Time) error) (*model.Room, bool, error) {
	release, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	defer release()
	return s.update(ctx, roomID, fn)
}

func (s *Service) lockRoom(ctx context.Context, roomID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, roomID)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return nil, apperr.Wrap(apperr.CodeRateLimited, "room is busy", err)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "acquire room lock", err)
	}
	return release, nil
}

func (s *Service) update(ctx context.Context, roomID string, fn func(r *model.Room, now time.Time) error) (*model.Room, bool, error) {
	room, changed, err := s.store.Update(ctx, roomID, func(r *model.Room) error {
		return fn(r, s.clock.Now())
	})
	if err != nil {
		return nil, false, storeError(err)
	}
	return room, changed, nil
}

func (s *Service) notify(ctx context.Context, e model.RoomEvent) {
	if !s.queue.Enqueue(ctx, e) {
		s.logger.Debug(ctx, "room notification dropped", logger.Room(e.RoomID), logger.Int64("version", e.Version))
	}
}

// identify accepts an identity token, or a host session token bound to roomID.
func (s *Service) identify(token, roomID string) (auth.Identity, error) {
	if s.auth == nil {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthorized, "authentication is not configured")
	}
	id, err := s.auth.VerifyIdentity(token)
	if err == nil {
		return id, nil
	}
	if roomID != "" {
		if hs, herr := s.auth.VerifyHostSession(token, roomID); herr == nil {
			return auth.Identity{UID: hs.UID, ExpiresAt: hs.ExpiresAt}, nil
		}
	}
	return auth.Identity{}, err
}

// allow spends one unit of key's rate budget.
func (s *Service) allow(key string) bool {
	now := s.clock.Now()
	s.limitMu.Lock()
	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.ratePerSec), s.rateBurst)}
		s.limiters[key] = e
	}
	e.lastUsed = now
	s.limitMu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// storeError maps repository errors to coded errors. Coded errors raised by a
// mutation pass through unchanged.
func storeError(err error) error {
	var coded *apperr.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.CodeRoomNotFound, "room not found", err)
	case errors.Is(err, repository.ErrConflict):
		return apperr.Wrap(apperr.CodeInternal, "concurrent write, retry", err)
	default:
		return apperr.Wrap(apperr.CodeInternal, "room store", err)
	}
}

func invalidStatus(room *model.Room, action string) error {
	return apperr.New(apperr.CodeInvalidStatus, action+" is not allowed while the room is "+string(room.Status))
}

// requireHost admits the host, and the creator while they are still seated.
func requireHost(room *model.Room, uid string) error {
	if uid != "" && uid == room.HostID {
		return nil
	}
	if uid != "" && uid == room.CreatorID {
		if _, ok := room.Participant(uid); ok {
			return nil
		}
	}
	return apperr.New(apperr.CodeForbidden, "only the host can do that")
}

func requireParticipant(room *model.Room, uid string) (*model.Participant, error) {
	p, ok := room.Participant(uid)
	if !ok {
		return nil, apperr.New(apperr.CodeForbidden, "not a participant of this room")
	}
	return p, nil
}
