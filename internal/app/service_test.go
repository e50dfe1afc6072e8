package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/mq/queue"
	"github.com/okian/roomsync/internal/adapters/mq/worker"
	"github.com/okian/roomsync/internal/adapters/repository"
	service "github.com/okian/roomsync/internal/app"
	"github.com/okian/roomsync/internal/apperr"
	"github.com/okian/roomsync/internal/config"
	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/clock"
	"github.com/okian/roomsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var epoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	svc   *service.Service
	store *repository.MemoryStore
	auth  *auth.Authenticator
	clk   *clock.Fake
	cfg   *config.Config
}

func newFixture(tweak ...func(*config.Config)) *fixture {
	clk := clock.NewFake(epoch)
	cfg := config.New()
	cfg.AuthSecret = "test-secret"
	cfg.NotifyWorkers = 1
	cfg.RateLimitPerSec = 1000
	cfg.RateLimitBurst = 1000
	for _, t := range tweak {
		t(cfg)
	}
	a, err := auth.New(cfg.AuthSecret, cfg.AuthIssuer, auth.WithNow(clk.Now))
	if err != nil {
		panic(err)
	}
	store := repository.NewMemoryStore(repository.WithClock(clk))
	f := &fixture{ctx: context.Background(), store: store, auth: a, clk: clk, cfg: cfg}
	f.svc = f.serviceOver(store)
	return f
}

// serviceOver builds another service sharing the fixture's auth and clock,
// as a restarted server would.
func (f *fixture) serviceOver(store repository.Store) *service.Service {
	return service.New(
		service.WithConfig(f.cfg),
		service.WithStore(store),
		service.WithAuthenticator(f.auth),
		service.WithClock(f.clk),
		service.WithLogger(logger.Nop()),
	)
}

func (f *fixture) token(uid string) string {
	tok, err := f.auth.IssueIdentity(uid, "name-"+uid, time.Hour)
	if err != nil {
		panic(err)
	}
	return tok
}

func (f *fixture) create(host string, opts model.Options) string {
	resp, err := f.svc.CreateRoom(f.ctx, service.CreateRoomRequest{
		Token:         f.token(host),
		RoomName:      "friday",
		DisplayName:   host,
		Options:       opts,
		ClientVersion: "v1.0.0",
	})
	So(err, ShouldBeNil)
	return resp.RoomID
}

func (f *fixture) join(roomID string, uids ...string) {
	for _, uid := range uids {
		_, err := f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{
			Token: f.token(uid), RoomID: roomID, DisplayName: uid, ClientVersion: "v1.0.0",
		})
		So(err, ShouldBeNil)
	}
}

func (f *fixture) room(id string) *model.Room {
	r, err := f.store.Get(f.ctx, id)
	So(err, ShouldBeNil)
	return r
}

func TestCreateAndJoin(t *testing.T) {
	Convey("Given a room service", t, func() {
		f := newFixture()

		Convey("When a room is created", func() {
			resp, err := f.svc.CreateRoom(f.ctx, service.CreateRoomRequest{
				Token: f.token("h"), RoomName: " friday ", ClientVersion: "1.0.3",
			})

			Convey("Then the caller is host and first participant at version 1", func() {
				So(err, ShouldBeNil)
				So(resp.AppVersion, ShouldEqual, "v1.0.0")
				So(resp.HostSessionToken, ShouldNotBeEmpty)
				So(resp.Room.StatusVersion, ShouldEqual, 1)
				So(resp.Room.Status, ShouldEqual, model.StatusWaiting)
				So(resp.Room.HostID, ShouldEqual, "h")
				So(resp.Room.Name, ShouldEqual, "friday")
				So(resp.Room.Participants["h"].Name, ShouldEqual, "name-h")
				So(resp.Room.Options.ResolveMode, ShouldEqual, model.ResolveSortSubmit)
				So(resp.Room.Topic, ShouldNotBeNil)
			})

			Convey("Then the host session token reads the room", func() {
				view, err := f.svc.Snapshot(f.ctx, resp.HostSessionToken, resp.RoomID)
				So(err, ShouldBeNil)
				So(view.ID, ShouldEqual, resp.RoomID)

				_, err = f.svc.Snapshot(f.ctx, resp.HostSessionToken, "another-room")
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
			})

			Convey("And another player joins", func() {
				view, err := f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{
					Token: f.token("p1"), RoomID: resp.RoomID, ClientVersion: "v1.0.0",
				})

				Convey("Then the version advances once and they have a seat", func() {
					So(err, ShouldBeNil)
					So(view.StatusVersion, ShouldEqual, 2)
					So(view.Participants["p1"].Spectator, ShouldBeFalse)
					So(view.Participants, ShouldHaveLength, 2)
				})
			})

			Convey("And an outdated client joins", func() {
				_, err := f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{
					Token: f.token("p1"), RoomID: resp.RoomID, ClientVersion: "v0.9.0",
				})
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeClientOutdated)
				So(f.room(resp.RoomID).StatusVersion, ShouldEqual, 1)
			})
		})

		Convey("When the token is bad", func() {
			_, err := f.svc.CreateRoom(f.ctx, service.CreateRoomRequest{Token: "junk", RoomName: "x", ClientVersion: "v1.0.0"})
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeUnauthorized)
		})

		Convey("When the room name is blank", func() {
			_, err := f.svc.CreateRoom(f.ctx, service.CreateRoomRequest{Token: f.token("h"), RoomName: "  ", ClientVersion: "v1.0.0"})
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeInvalidPayload)
		})

		Convey("When the room does not exist", func() {
			_, err := f.svc.Snapshot(f.ctx, f.token("h"), "missing")
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeRoomNotFound)
			_, err = f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{Token: f.token("h"), RoomID: "missing", ClientVersion: "v1.0.0"})
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeRoomNotFound)
		})

		Convey("When a room has a password", func() {
			resp, err := f.svc.CreateRoom(f.ctx, service.CreateRoomRequest{
				Token: f.token("h"), RoomName: "locked", PasswordHash: "h1", ClientVersion: "v1.0.0",
			})
			So(err, ShouldBeNil)
			So(resp.Room.PasswordHash, ShouldBeEmpty)

			_, err = f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{
				Token: f.token("p1"), RoomID: resp.RoomID, PasswordHash: "nope", ClientVersion: "v1.0.0",
			})
			So(apperr.CodeOf(err), ShouldEqual, apperr.CodeForbidden)

			_, err = f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{
				Token: f.token("p1"), RoomID: resp.RoomID, PasswordHash: "h1", ClientVersion: "v1.0.0",
			})
			So(err, ShouldBeNil)
		})

		Convey("When someone joins mid-round", func() {
			id := f.create("h", model.Options{})
			_, err := f.svc.Deal(f.ctx, service.DealRequest{Token: f.token("h"), RoomID: id, RequestID: "d1"})
			So(err, ShouldBeNil)
			f.join(id, "late")

			Convey("Then they sit out as a spectator", func() {
				So(f.room(id).Participants["late"].Spectator, ShouldBeTrue)
			})
		})

		Convey("When a room is full", func() {
			id := f.create("h", model.Options{MaxPlayers: 2})
			f.join(id, "p1", "p2")
			So(f.room(id).Participants["p1"].Spectator, ShouldBeFalse)
			So(f.room(id).Participants["p2"].Spectator, ShouldBeTrue)
		})
	})
}

func TestCheckVersion(t *testing.T) {
	Convey("Given client, server and room builds", t, func() {
		cases := []struct {
			client, server, room string
			want                 apperr.Code
		}{
			{"v1.0.0", "v1.0.0", "", ""},
			{"1.0.9", "v1.0.0", "v1.0.2", ""},
			{"v0.9.0", "v1.0.0", "", apperr.CodeClientOutdated},
			{"v1.2.0", "v1.0.0", "", apperr.CodeUnknown},
			{"v1.1.0", "v1.1.0", "v1.2.0", apperr.CodeClientOutdated},
			{"v1.1.0", "v1.1.0", "v1.0.0", apperr.CodeRoomOutdated},
			{"", "v1.0.0", "", apperr.CodeUnknown},
			{"latest", "v1.0.0", "", apperr.CodeUnknown},
			{"v1.0.0", "v1.0.0", "garbage", apperr.CodeUnknown},
		}
		for _, c := range cases {
			err := service.CheckVersion(c.client, c.server, c.room)
			So(apperr.CodeOf(err), ShouldEqual, c.want)
		}
	})
}

func TestRateLimit(t *testing.T) {
	Convey("Given a room with a budget of one command", t, func() {
		f := newFixture(func(c *config.Config) {
			c.RateLimitPerSec = 0.001
			c.RateLimitBurst = 1
		})
		id := f.create("h", model.Options{})
		f.join(id, "p1")

		Convey("When another command arrives at once", func() {
			_, err := f.svc.JoinRoom(f.ctx, service.JoinRoomRequest{Token: f.token("p2"), RoomID: id, ClientVersion: "v1.0.0"})

			Convey("Then it is rate limited and retryable", func() {
				So(apperr.CodeOf(err), ShouldEqual, apperr.CodeRateLimited)
				So(apperr.Retryable(apperr.CodeOf(err)), ShouldBeTrue)
				So(f.room(id).Participants, ShouldNotContainKey, "p2")
			})
		})
	})
}

func TestNotifications(t *testing.T) {
	Convey("Given a started service with a recording dispatcher", t, func() {
		events := make(chan queue.Event, 8)
		clk := clock.NewFake(epoch)
		cfg := config.New()
		cfg.AuthSecret = "test-secret"
		a, _ := auth.New(cfg.AuthSecret, cfg.AuthIssuer, auth.WithNow(clk.Now))
		svc := service.New(
			service.WithConfig(cfg),
			service.WithAuthenticator(a),
			service.WithClock(clk),
			service.WithDispatcher(worker.DispatchFunc(func(_ context.Context, e queue.Event) error {
				events <- e
				return nil
			})),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		tok, _ := a.IssueIdentity("h", "Host", time.Hour)
		resp, err := svc.CreateRoom(ctx, service.CreateRoomRequest{Token: tok, RoomName: "r", ClientVersion: "v1.0.0"})
		So(err, ShouldBeNil)

		Convey("Then creation is announced with the committed version", func() {
			select {
			case e := <-events:
				So(e.RoomID, ShouldEqual, resp.RoomID)
				So(e.Kind, ShouldEqual, model.EventRoomCreated)
				So(e.Version, ShouldEqual, 1)
			case <-time.After(2 * time.Second):
				So("no event", ShouldBeEmpty)
			}
			stats := svc.Stats(ctx)
			So(stats["started"], ShouldBeTrue)
			So(stats["rooms"], ShouldEqual, 1)
		})
	})
}
