// Package api exposes the room command surface over HTTP. Every response is a
// JSON object carrying "ok"; failures add the error "code" and a "message"
// and use the status mapped from the code.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	service "github.com/okian/roomsync/internal/app"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers.
type Dependencies interface {
	CreateRoom(ctx context.Context, req service.CreateRoomRequest) (service.CreateRoomResponse, error)
	JoinRoom(ctx context.Context, req service.JoinRoomRequest) (*model.Room, error)
	Snapshot(ctx context.Context, token, roomID string) (*model.Room, error)
	Deal(ctx context.Context, req service.DealRequest) (*model.Room, error)
	SubmitClue(ctx context.Context, req service.ClueRequest) (*model.Room, error)
	SetReady(ctx context.Context, req service.ReadyRequest) (*model.Room, error)
	ProposalInsert(ctx context.Context, req service.ProposalRequest) (service.ProposalResponse, error)
	ProposalRemove(ctx context.Context, req service.ProposalRequest) (service.ProposalResponse, error)
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*model.Room, error)
	CommitPlayFromClue(ctx context.Context, req service.CommitPlayRequest) (*model.Room, error)
	FinalizeReveal(ctx context.Context, req service.RoomRequest) (*model.Room, error)
	ResetRoom(ctx context.Context, req service.ResetRequest) (*model.Room, error)
	Topic(ctx context.Context, req service.TopicRequest) (*model.Room, error)
	ClaimHost(ctx context.Context, req service.ClaimHostRequest) (service.ClaimHostResponse, error)
	Prune(ctx context.Context, req service.PruneRequest) (service.PruneResponse, error)
	Heartbeat(ctx context.Context, req service.HeartbeatRequest) (service.HeartbeatResponse, error)
}

// Server wires HTTP routes for the command surface.
type Server struct {
	deps   Dependencies
	health *HealthHandler
	ws     http.Handler
	logger logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStats exposes stats on /healthz.
func WithStats(p StatsProvider) Option {
	return func(s *Server) {
		s.health = NewHealthHandler(p)
	}
}

// WithWebsocket mounts the realtime feed on GET /rooms/{id}/ws.
func WithWebsocket(h http.Handler) Option {
	return func(s *Server) {
		s.ws = h
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:   deps,
		health: NewHealthHandler(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.health.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.health.HandleMetrics)

	mux.HandleFunc("POST /rooms", MetricsMiddleware(handle(s, s.deps.CreateRoom, func(q *service.CreateRoomRequest) (*string, *string) {
		return nil, &q.Token
	}), "createRoom"))
	mux.HandleFunc("GET /rooms/{id}", MetricsMiddleware(s.handleSnapshot, "snapshot"))
	mux.HandleFunc("POST /rooms/{id}/join", MetricsMiddleware(handle(s, s.deps.JoinRoom, func(q *service.JoinRoomRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "joinRoom"))
	mux.HandleFunc("POST /rooms/{id}/deal", MetricsMiddleware(handle(s, s.deps.Deal, func(q *service.DealRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "dealCommand"))
	mux.HandleFunc("POST /rooms/{id}/clue", MetricsMiddleware(handle(s, s.deps.SubmitClue, func(q *service.ClueRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "submitClue"))
	mux.HandleFunc("POST /rooms/{id}/ready", MetricsMiddleware(handle(s, s.deps.SetReady, func(q *service.ReadyRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "setReady"))
	mux.HandleFunc("POST /rooms/{id}/proposal", MetricsMiddleware(handle(s, s.proposalInsert, func(q *proposalBody) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "proposalInsert"))
	mux.HandleFunc("POST /rooms/{id}/proposal/remove", MetricsMiddleware(handle(s, s.deps.ProposalRemove, func(q *service.ProposalRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "proposalRemove"))
	mux.HandleFunc("POST /rooms/{id}/order", MetricsMiddleware(handle(s, s.deps.SubmitOrder, func(q *service.SubmitOrderRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "submitOrder"))
	mux.HandleFunc("POST /rooms/{id}/play", MetricsMiddleware(handle(s, s.deps.CommitPlayFromClue, func(q *service.CommitPlayRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "commitPlayFromClue"))
	mux.HandleFunc("POST /rooms/{id}/reveal/finalize", MetricsMiddleware(handle(s, s.deps.FinalizeReveal, func(q *service.RoomRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "finalizeReveal"))
	mux.HandleFunc("POST /rooms/{id}/reset", MetricsMiddleware(handle(s, s.deps.ResetRoom, func(q *service.ResetRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "resetRoomCommand"))
	mux.HandleFunc("POST /rooms/{id}/topic", MetricsMiddleware(handle(s, s.deps.Topic, func(q *service.TopicRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "topicCommand"))
	mux.HandleFunc("POST /rooms/{id}/claim-host", MetricsMiddleware(handle(s, s.deps.ClaimHost, func(q *service.ClaimHostRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "claimHost"))
	mux.HandleFunc("POST /rooms/{id}/prune", MetricsMiddleware(handle(s, s.deps.Prune, func(q *service.PruneRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "prune"))
	mux.HandleFunc("POST /rooms/{id}/heartbeat", MetricsMiddleware(handle(s, s.deps.Heartbeat, func(q *service.HeartbeatRequest) (*string, *string) {
		return &q.RoomID, &q.Token
	}), "heartbeat"))

	if s.ws != nil {
		mux.Handle("GET /rooms/{id}/ws", s.ws)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// handle decodes a JSON body into Req, fills the room id from the path and
// the token from the Authorization header when the body has none, then calls
// the command.
func handle[Req, Resp any](s *Server, call func(context.Context, Req) (Resp, error), target func(*Req) (roomID, token *string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.command"
		var req Req
		if err := decode(w, r, &req); err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInvalidPayload, "malformed request body", WrapKind(op, ErrBadRequest, err)))
			return
		}
		roomID, token := target(&req)
		if roomID != nil {
			*roomID = r.PathValue("id")
		}
		if token != nil && strings.TrimSpace(*token) == "" {
			*token = bearer(r)
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, resp)
	}
}

// proposalBody lets an omitted targetIndex mean append.
type proposalBody struct {
	Token       string `json:"token"`
	RoomID      string `json:"roomId"`
	PlayerID    string `json:"playerId"`
	TargetIndex *int   `json:"targetIndex"`
}

func (s *Server) proposalInsert(ctx context.Context, b proposalBody) (service.ProposalResponse, error) {
	idx := -1
	if b.TargetIndex != nil {
		idx = *b.TargetIndex
	}
	return s.deps.ProposalInsert(ctx, service.ProposalRequest{
		Token:       b.Token,
		RoomID:      b.RoomID,
		PlayerID:    b.PlayerID,
		TargetIndex: idx,
	})
}

// handleSnapshot handles GET /rooms/{id}.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearer(r)
	}
	room, err := s.deps.Snapshot(r.Context(), token, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, room)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		s.logger.Error(r.Context(), "command failed", logger.String("path", r.URL.Path), logger.Error(err))
	}
	writeError(w, err)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	var tooBig *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooBig):
		return ErrBodyTooBig
	default:
		return err
	}
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK flattens v into the success envelope. A room is nested under "room".
func writeOK(w http.ResponseWriter, v any) {
	if room, ok := v.(*model.Room); ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "room": room})
		return
	}
	body := map[string]any{}
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "encode response", err))
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for k, f := range fields {
			body[k] = f
		}
	}
	body["ok"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	msg := http.StatusText(status)
	var coded *apperr.Error
	if code != apperr.CodeInternal && errors.As(err, &coded) && coded.Message != "" {
		msg = coded.Message
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: msg})
}
