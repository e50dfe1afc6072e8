package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/roomsync/internal/adapters/auth"
	httpapi "github.com/okian/roomsync/internal/adapters/http/api"
	"github.com/okian/roomsync/internal/adapters/http/ws"
	"github.com/okian/roomsync/internal/adapters/mq/queue"
	"github.com/okian/roomsync/internal/adapters/mq/worker"
	service "github.com/okian/roomsync/internal/app"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/client/api"
	"github.com/okian/roomsync/internal/config"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/internal/domain/presence"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/retry"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var fast = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}

func TestClientAgainstServer(t *testing.T) {
	Convey("Given a running command surface", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.AuthSecret = "client-secret"
		cfg.NotifyWorkers = 1
		a, err := auth.New(cfg.AuthSecret, cfg.AuthIssuer)
		So(err, ShouldBeNil)
		svc := service.New(service.WithConfig(cfg), service.WithAuthenticator(a), service.WithLogger(logger.Nop()))
		srv := httptest.NewServer(httpapi.NewServer(svc, httpapi.WithLogger(logger.Nop())).Handler())
		defer srv.Close()

		as := func(uid string) *api.Client {
			tok, err := a.IssueIdentity(uid, "name-"+uid, time.Hour)
			So(err, ShouldBeNil)
			return api.New(srv.URL, tok, api.WithPolicy(fast), api.WithLogger(logger.Nop()))
		}
		host, guest := as("h"), as("p1")

		Convey("When a round is played through the client", func() {
			created, err := host.CreateRoom(ctx, service.CreateRoomRequest{RoomName: "client", ClientVersion: "v1.0.0"})
			So(err, ShouldBeNil)
			_, err = guest.JoinRoom(ctx, service.JoinRoomRequest{RoomID: created.RoomID, ClientVersion: "v1.0.0"})
			So(err, ShouldBeNil)
			dealt, err := host.Deal(ctx, service.DealRequest{RoomID: created.RoomID})
			So(err, ShouldBeNil)

			Convey("Then snapshots reflect the committed round", func() {
				So(dealt.Status, ShouldEqual, model.StatusClueCollection)
				view, err := guest.Snapshot(ctx, created.RoomID)
				So(err, ShouldBeNil)
				So(view.Round, ShouldEqual, 1)
				So(view.Participants["p1"].Number, ShouldNotBeNil)
				So(view.Participants["h"].Number, ShouldBeNil)
			})

			Convey("Then a rejected command surfaces its code without retrying", func() {
				_, err := guest.Deal(ctx, service.DealRequest{RoomID: created.RoomID})
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeForbidden)
			})
		})
	})
}

func TestClientRetries(t *testing.T) {
	Convey("Given a server that rate limits the first attempts", t, func() {
		var mu sync.Mutex
		var calls int
		var ids []string
		failures := 2
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req service.DealRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			calls++
			ids = append(ids, req.RequestID)
			n := calls
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			if n <= failures {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"ok":false,"code":"rate_limited","message":"slow down"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"room":{"id":"r1","statusVersion":7}}`))
		}))
		defer srv.Close()
		c := api.New(srv.URL, "tok", api.WithPolicy(fast), api.WithLogger(logger.Nop()))

		Convey("When the budget frees up within the attempts", func() {
			room, err := c.Deal(context.Background(), service.DealRequest{RoomID: "r1"})

			Convey("Then the command succeeds with one request id throughout", func() {
				So(err, ShouldBeNil)
				So(room.StatusVersion, ShouldEqual, 7)
				So(calls, ShouldEqual, 3)
				So(ids[0], ShouldNotBeEmpty)
				So(ids[1], ShouldEqual, ids[0])
				So(ids[2], ShouldEqual, ids[0])
			})
		})

		Convey("When every attempt is rejected", func() {
			failures = 10
			_, err := c.Deal(context.Background(), service.DealRequest{RoomID: "r1"})

			Convey("Then the last code is returned after three attempts", func() {
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeRateLimited)
				So(calls, ShouldEqual, 3)
			})
		})
	})

	Convey("Given a server that rejects with forbidden", t, func() {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"ok":false,"code":"forbidden","message":"host only"}`))
		}))
		defer srv.Close()

		_, err := api.New(srv.URL, "tok", api.WithPolicy(fast)).ResetRoom(context.Background(), service.ResetRequest{RoomID: "r1"})
		So(apperr.CodeOf(err), ShouldEqual, apperr.CodeForbidden)
		So(calls, ShouldEqual, 1)
	})
}

func TestSubscribe(t *testing.T) {
	Convey("Given a server with the realtime feed mounted", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cfg := config.New()
		cfg.AuthSecret = "feed-secret"
		cfg.NotifyWorkers = 1
		a, err := auth.New(cfg.AuthSecret, cfg.AuthIssuer)
		So(err, ShouldBeNil)
		p := presence.NewStore()
		var hub *ws.Hub
		svc := service.New(
			service.WithConfig(cfg),
			service.WithAuthenticator(a),
			service.WithPresence(p),
			service.WithLogger(logger.Nop()),
			service.WithDispatcher(worker.DispatchFunc(func(ctx context.Context, e queue.Event) error {
				return hub.Dispatch(ctx, e)
			})),
		)
		hub = ws.NewHub(svc, p, ws.WithLogger(logger.Nop()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := httptest.NewServer(httpapi.NewServer(svc, httpapi.WithWebsocket(hub), httpapi.WithLogger(logger.Nop())).Handler())
		defer srv.Close()
		defer hub.Close()

		as := func(uid string) *api.Client {
			tok, err := a.IssueIdentity(uid, "name-"+uid, time.Hour)
			So(err, ShouldBeNil)
			return api.New(srv.URL, tok, api.WithPolicy(fast), api.WithLogger(logger.Nop()))
		}
		host := as("h")
		created, err := host.CreateRoom(ctx, service.CreateRoomRequest{RoomName: "feed", ClientVersion: "v1.0.0"})
		So(err, ShouldBeNil)

		Convey("When the host subscribes and a guest joins", func() {
			frames := make(chan roomapi.Frame, 32)
			done := make(chan error, 1)
			go func() {
				done <- host.Subscribe(ctx, created.RoomID, func(f roomapi.Frame) { frames <- f })
			}()
			waitFor := func(match func(roomapi.Frame) bool) roomapi.Frame {
				deadline := time.After(3 * time.Second)
				for {
					select {
					case f := <-frames:
						if match(f) {
							return f
						}
					case <-deadline:
						So("frame never arrived", ShouldBeEmpty)
						return roomapi.Frame{}
					}
				}
			}
			first := waitFor(func(f roomapi.Frame) bool { return f.Type == roomapi.FrameSnapshot })
			_, err := as("p1").JoinRoom(ctx, service.JoinRoomRequest{RoomID: created.RoomID, ClientVersion: "v1.0.0"})
			So(err, ShouldBeNil)

			Convey("Then the snapshots and presence arrive through fn", func() {
				So(first.Room.HostID, ShouldEqual, "h")
				joined := waitFor(func(f roomapi.Frame) bool {
					return f.Type == roomapi.FrameSnapshot && f.Version > first.Version
				})
				So(joined.Room.Participants, ShouldContainKey, "p1")

				cancel()
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(3 * time.Second):
					So("subscribe did not return", ShouldBeEmpty)
				}
			})
		})

		Convey("When a stranger subscribes", func() {
			err := as("stranger").Subscribe(ctx, created.RoomID, func(roomapi.Frame) {})

			Convey("Then the handshake error carries its code", func() {
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeForbidden)
			})
		})
	})
}
