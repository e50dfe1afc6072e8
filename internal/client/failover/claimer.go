package failover

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/retry"
)

// ErrClaimInFlight is returned when a claim is already running.
var ErrClaimInFlight = errors.New("claim already in flight")

// HostClaimer sends one claim request.
type HostClaimer interface {
	ClaimHost(ctx context.Context, req roomapi.ClaimHostRequest) (roomapi.ClaimHostResponse, error)
}

// ClaimResult is the outcome of a claim that did not fail.
type ClaimResult struct {
	Won              bool   // false when the seat was already taken
	HostID           string // set when Won
	HostSessionToken string
}

// Claimer retries claims for one participant of one room.
type Claimer struct {
	client HostClaimer
	roomID string
	uid    string
	policy retry.Policy
	logger logger.Logger

	running atomic.Bool
}

// ClaimerOption configures a Claimer.
type ClaimerOption func(*Claimer)

// WithClaimPolicy overrides the retry policy.
func WithClaimPolicy(p retry.Policy) ClaimerOption {
	return func(c *Claimer) {
		c.policy = p
	}
}

// WithClaimLogger sets the logger.
func WithClaimLogger(l logger.Logger) ClaimerOption {
	return func(c *Claimer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClaimer returns a Claimer for uid in roomID with the default three
// attempt, doubling policy.
func NewClaimer(client HostClaimer, roomID, uid string, opts ...ClaimerOption) *Claimer {
	c := &Claimer{
		client: client,
		roomID: roomID,
		uid:    uid,
		policy: retry.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("failover")
	}
	return c
}

// Claim asks for the host seat. Transient failures are retried under the
// policy; once the attempts run out the last error is returned and the
// caller waits for the next presence tick. A forbidden reply means someone
// else holds the seat: the claimer stands down with Won false and no error.
func (c *Claimer) Claim(ctx context.Context, token string) (ClaimResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return ClaimResult{}, ErrClaimInFlight
	}
	defer c.running.Store(false)

	var resp roomapi.ClaimHostResponse
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		resp, err = c.client.ClaimHost(ctx, roomapi.ClaimHostRequest{Token: token, RoomID: c.roomID, UID: c.uid})
		return err
	}, func(err error) bool {
		return apperr.Retryable(apperr.CodeOf(err))
	})

	switch {
	case err == nil:
		c.logger.Info(ctx, "claimed host", logger.Room(c.roomID), logger.User(c.uid))
		return ClaimResult{Won: true, HostID: resp.HostID, HostSessionToken: resp.HostSessionToken}, nil
	case apperr.CodeOf(err) == apperr.CodeForbidden:
		c.logger.Debug(ctx, "host seat taken, standing down", logger.Room(c.roomID), logger.User(c.uid))
		return ClaimResult{}, nil
	default:
		c.logger.Debug(ctx, "claim gave up", logger.Room(c.roomID), logger.User(c.uid), logger.Error(err))
		return ClaimResult{}, err
	}
}
