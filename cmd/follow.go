package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/roomsync/internal/client/api"
	"github.com/okian/roomsync/internal/client/failover"
	"github.com/okian/roomsync/internal/domain/roomapi"
	"github.com/okian/roomsync/pkg/logger"
)

const heartbeatInterval = 5 * time.Second

func newFollowCmd() *cobra.Command {
	var (
		server  string
		roomID  string
		uid     string
		token   string
		name    string
		version string
	)
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Sit in a room as a participant that takes over a vacant host seat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if roomID == "" || uid == "" || token == "" {
				return errors.New("--room, --uid and --token are required")
			}
			if err := logger.InitWith(cmd.ErrOrStderr(), "text"); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return follow(ctx, api.New(server, token), roomID, uid, name, version)
		},
	}
	f := cmd.Flags()
	f.StringVar(&server, "server", "http://localhost:8080", "server base url")
	f.StringVar(&roomID, "room", "", "room id")
	f.StringVar(&uid, "uid", "", "uid the token was issued to")
	f.StringVar(&token, "token", "", "identity token")
	f.StringVar(&name, "name", "", "display name")
	f.StringVar(&version, "client-version", "v1.0.0", "client semantic version")
	return cmd
}

// follow joins roomID and runs the participant's side of failover until ctx
// ends: heartbeats, the room feed, host claims and, while host, pruning.
func follow(ctx context.Context, client *api.Client, roomID, uid, name, version string) error {
	log := logger.Get().Named("follow")
	room, err := client.JoinRoom(ctx, roomapi.JoinRoomRequest{RoomID: roomID, DisplayName: name, ClientVersion: version})
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	sup := failover.NewSupervisor(client, roomID, uid, client.Token(),
		failover.WithSupervisorLogger(log),
		failover.WithClaimCallback(func(res failover.ClaimResult, err error) {
			if res.Won {
				log.Info(ctx, "took over the host seat", logger.Room(roomID), logger.User(uid))
			}
		}),
	)
	sup.ObserveRoom(room)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			resp, err := client.Heartbeat(gctx, roomapi.HeartbeatRequest{RoomID: roomID, Connected: true})
			if err != nil {
				log.Debug(gctx, "heartbeat failed", logger.Room(roomID), logger.Error(err))
			} else {
				sup.ObservePresence(resp.Online, !resp.Degraded)
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		err := client.Subscribe(gctx, roomID, func(f roomapi.Frame) {
			switch f.Type {
			case roomapi.FrameSnapshot:
				sup.ObserveRoom(f.Room)
			case roomapi.FramePresence:
				sup.ObservePresence(f.Online, !f.Degraded)
			}
		})
		if err != nil {
			return fmt.Errorf("room feed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
