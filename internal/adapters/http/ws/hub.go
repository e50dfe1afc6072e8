// Package ws serves the realtime room feed. Each subscriber receives its own
// redacted snapshot on connect and again after every committed change, plus
// presence updates as subscribers come and go. Connections count as presence.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/presence"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/metrics"
)

// Message types.
const (
	TypeSnapshot = roomapi.FrameSnapshot
	TypePresence = roomapi.FramePresence
)

const (
	defaultPingInterval = 25 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultSendBuffer   = 16
	maxReadBytes        = 4 << 10
)

// Message is one frame pushed to a subscriber.
type Message = roomapi.Frame

// Source authenticates subscribers and renders their views.
type Source interface {
	Identify(token, roomID string) (auth.Identity, error)
	View(ctx context.Context, roomID, viewer string) (*model.Room, error)
}

// Hub fans room changes out to websocket subscribers.
type Hub struct {
	source   Source
	presence *presence.Store
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	rooms  map[string]map[*client]struct{}
	closed bool

	pingInterval time.Duration
	writeWait    time.Duration
	sendBuffer   int
	logger       logger.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin overrides the upgrader origin policy.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub returns a hub reading views from source and reporting connections
// to p.
func NewHub(source Source, p *presence.Store, opts ...Option) *Hub {
	h := &Hub{
		source:       source,
		presence:     p,
		rooms:        make(map[string]map[*client]struct{}),
		pingInterval: defaultPingInterval,
		writeWait:    defaultWriteWait,
		sendBuffer:   defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	return h
}

type client struct {
	roomID string
	uid    string
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent int64 // highest snapshot version queued
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// push queues m without blocking. Snapshots older than one already queued
// are dropped. It reports false when the buffer is full.
func (c *client) push(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Type == TypeSnapshot {
		if m.Version <= c.sent {
			return true
		}
	}
	select {
	case <-c.done:
		return true
	case c.send <- m:
		if m.Type == TypeSnapshot {
			c.sent = m.Version
		}
		return true
	default:
		return false
	}
}

// ServeHTTP handles GET /rooms/{id}/ws?token=.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	id, err := h.source.Identify(token, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.source.View(r.Context(), roomID, id.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	if p, ok := view.Participant(id.UID); !ok || !p.Active() {
		writeError(w, apperr.New(apperr.CodeForbidden, "not a participant of this room"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Room(roomID), logger.Error(err))
		return
	}
	c := &client{
		roomID: roomID,
		uid:    id.UID,
		conn:   conn,
		send:   make(chan Message, h.sendBuffer),
		done:   make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	// Re-read once registered: a commit landing after the first read is then
	// either in this snapshot or dispatched to c.
	if fresh, err := h.source.View(r.Context(), roomID, id.UID); err == nil {
		view = fresh
	}
	c.push(Message{Type: TypeSnapshot, Version: view.StatusVersion, Room: view})
	if h.presence != nil {
		h.presence.Attach(roomID, id.UID)
	}
	h.broadcastPresence(roomID)

	h.readPump(c)

	h.remove(c)
	c.close()
	if h.presence != nil {
		h.presence.Detach(roomID, id.UID)
	}
	h.broadcastPresence(roomID)
}

// readPump discards inbound frames and returns when the peer goes away.
func (h *Hub) readPump(c *client) {
	pongWait := 2 * h.pingInterval
	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.close()
				return
			}
			metrics.RecordWSMessage()
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	subs, ok := h.rooms[c.roomID]
	if !ok {
		subs = make(map[*client]struct{})
		h.rooms[c.roomID] = subs
	}
	subs[c] = struct{}{}
	metrics.AddWSSubscribers(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.rooms, c.roomID)
	}
	metrics.AddWSSubscribers(-1)
}

func (h *Hub) subscribers(roomID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		subs = append(subs, c)
	}
	return subs
}

// evict drops a subscriber that cannot keep up. It reconnects and starts
// from a fresh snapshot.
func (h *Hub) evict(c *client) {
	h.logger.Warn(context.Background(), "evicting slow subscriber", logger.Room(c.roomID), logger.User(c.uid))
	h.remove(c)
	c.close()
}

// Dispatch pushes a fresh snapshot of e.RoomID to every subscriber of the room.
func (h *Hub) Dispatch(ctx context.Context, e model.RoomEvent) error {
	subs := h.subscribers(e.RoomID)
	if len(subs) == 0 {
		return nil
	}
	var errs []error
	for _, c := range subs {
		view, err := h.source.View(ctx, e.RoomID, c.uid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !c.push(Message{Type: TypeSnapshot, Version: view.StatusVersion, Room: view}) {
			h.evict(c)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) broadcastPresence(roomID string) {
	if h.presence == nil {
		return
	}
	online, ok := h.presence.Online(roomID)
	m := Message{Type: TypePresence, Online: online, Degraded: !ok}
	for _, c := range h.subscribers(roomID) {
		if !c.push(m) {
			h.evict(c)
		}
	}
}

// Subscribers returns the number of open subscriptions to roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, subs := range h.rooms {
		for c := range subs {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	msg := http.StatusText(status)
	var coded *apperr.Error
	if code != apperr.CodeInternal && errors.As(err, &coded) && coded.Message != "" {
		msg = coded.Message
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: string(code), Message: msg})
}
