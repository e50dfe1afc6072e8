// Package api is a Go client for the room command surface. Transient
// failures (transport errors, invalid_status, rate_limited, internal) are
// retried under a retry.Policy; retried commands keep the same request id so
// the server applies them once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/retry"
)

const maxResponseBytes = 1 << 20

// Client calls one roomsync server as one identity.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	policy  retry.Policy
	logger  logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithPolicy sets the retry policy for transient failures.
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a client for baseURL that authenticates with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		policy:  retry.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("client")
	}
	return c
}

// Token returns the credential sent with every request.
func (c *Client) Token() string { return c.token }

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type roomBody struct {
	Room *model.Room `json:"room"`
}

// Retryable reports whether err is worth retrying automatically.
func Retryable(err error) bool {
	return apperr.Retryable(apperr.CodeOf(err))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	attempt := 0
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		err := c.once(ctx, method, path, body, out)
		if err != nil && attempt > 1 {
			c.logger.Debug(ctx, "retrying request", logger.String("path", path), logger.Int("attempt", attempt), logger.Error(err))
		}
		return err
	}, Retryable)
}

func (c *Client) once(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalidPayload, "encode request", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidPayload, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.CodeInternal, "transport", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorBody
		_ = json.Unmarshal(raw, &e)
		code := apperr.Code(e.Code)
		if code == "" {
			code = apperr.CodeInternal
		}
		msg := e.Message
		if msg == "" {
			msg = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return apperr.New(code, msg)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "decode response", err)
		}
	}
	return nil
}

func roomPath(roomID, action string) string {
	p := "/rooms/" + url.PathEscape(roomID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) room(ctx context.Context, roomID, action string, body any) (*model.Room, error) {
	var out roomBody
	if err := c.do(ctx, http.MethodPost, roomPath(roomID, action), body, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

func requestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// CreateRoom opens a room.
func (c *Client) CreateRoom(ctx context.Context, req roomapi.CreateRoomRequest) (roomapi.CreateRoomResponse, error) {
	var out roomapi.CreateRoomResponse
	err := c.do(ctx, http.MethodPost, "/rooms", req, &out)
	return out, err
}

// JoinRoom joins roomID.
func (c *Client) JoinRoom(ctx context.Context, req roomapi.JoinRoomRequest) (*model.Room, error) {
	return c.room(ctx, req.RoomID, "join", req)
}

// Snapshot reads the room.
func (c *Client) Snapshot(ctx context.Context, roomID string) (*model.Room, error) {
	var out roomBody
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

// Deal starts a round. An empty request id is generated once and reused
// across retries.
func (c *Client) Deal(ctx context.Context, req roomapi.DealRequest) (*model.Room, error) {
	req.RequestID = requestID(req.RequestID)
	return c.room(ctx, req.RoomID, "deal", req)
}

// SubmitClue sets the caller's clue.
func (c *Client) SubmitClue(ctx context.Context, req roomapi.ClueRequest) (*model.Room, error) {
	return c.room(ctx, req.RoomID, "clue", req)
}

// SetReady sets the caller's ready flag.
func (c *Client) SetReady(ctx context.Context, req roomapi.ReadyRequest) (*model.Room, error) {
	return c.room(ctx, req.RoomID, "ready", req)
}

// ProposalInsert places a card.
func (c *Client) ProposalInsert(ctx context.Context, req roomapi.ProposalRequest) (roomapi.ProposalResponse, error) {
	var out roomapi.ProposalResponse
	err := c.do(ctx, http.MethodPost, roomPath(req.RoomID, "proposal"), req, &out)
	return out, err
}

// ProposalRemove takes a card back.
func (c *Client) ProposalRemove(ctx context.Context, req roomapi.ProposalRequest) (roomapi.ProposalResponse, error) {
	var out roomapi.ProposalResponse
	err := c.do(ctx, http.MethodPost, roomPath(req.RoomID, "proposal/remove"), req, &out)
	return out, err
}

// SubmitOrder submits the full order.
func (c *Client) SubmitOrder(ctx context.Context, req roomapi.SubmitOrderRequest) (*model.Room, error) {
	req.RequestID = requestID(req.RequestID)
	return c.room(ctx, req.RoomID, "order", req)
}

// CommitPlayFromClue places one card in sequential mode.
func (c *Client) CommitPlayFromClue(ctx context.Context, req roomapi.CommitPlayRequest) (*model.Room, error) {
	req.RequestID = requestID(req.RequestID)
	return c.room(ctx, req.RoomID, "play", req)
}

// FinalizeReveal closes the revealed round.
func (c *Client) FinalizeReveal(ctx context.Context, req roomapi.RoomRequest) (*model.Room, error) {
	return c.room(ctx, req.RoomID, "reveal/finalize", req)
}

// ResetRoom returns the room to waiting.
func (c *Client) ResetRoom(ctx context.Context, req roomapi.ResetRequest) (*model.Room, error) {
	req.RequestID = requestID(req.RequestID)
	return c.room(ctx, req.RoomID, "reset", req)
}

// Topic changes the round topic.
func (c *Client) Topic(ctx context.Context, req roomapi.TopicRequest) (*model.Room, error) {
	return c.room(ctx, req.RoomID, "topic", req)
}

// ClaimHost asks for the host seat. It is sent once; callers that want
// retries use failover.Claimer.
func (c *Client) ClaimHost(ctx context.Context, req roomapi.ClaimHostRequest) (roomapi.ClaimHostResponse, error) {
	var out roomapi.ClaimHostResponse
	err := c.once(ctx, http.MethodPost, roomPath(req.RoomID, "claim-host"), req, &out)
	return out, err
}

// Prune removes offline participants. It is sent once.
func (c *Client) Prune(ctx context.Context, req roomapi.PruneRequest) (roomapi.PruneResponse, error) {
	var out roomapi.PruneResponse
	err := c.once(ctx, http.MethodPost, roomPath(req.RoomID, "prune"), req, &out)
	return out, err
}

// Heartbeat reports presence. It is sent once; the next tick is the retry.
func (c *Client) Heartbeat(ctx context.Context, req roomapi.HeartbeatRequest) (roomapi.HeartbeatResponse, error) {
	var out roomapi.HeartbeatResponse
	err := c.once(ctx, http.MethodPost, roomPath(req.RoomID, "heartbeat"), req, &out)
	return out, err
}
