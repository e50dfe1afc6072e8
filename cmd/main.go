package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/roomsync/internal/adapters/auth"
	"github.com/okian/roomsync/internal/adapters/http/api"
	"github.com/okian/roomsync/internal/adapters/http/swagger"
	"github.com/okian/roomsync/internal/adapters/http/ws"
	"github.com/okian/roomsync/internal/adapters/mq/queue"
	"github.com/okian/roomsync/internal/adapters/mq/worker"
	"github.com/okian/roomsync/internal/adapters/repository"
	service "github.com/okian/roomsync/internal/app"
	"github.com/okian/roomsync/internal/config"
	"github.com/okian/roomsync/internal/domain/dealing"
	"github.com/okian/roomsync/internal/domain/presence"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	sweepInterval     = time.Minute
	sweepRetain       = 10 * time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roomsync",
		Short:         "Real-time room sync engine for party games",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newServeCmd(), newDealCmd(), newFollowCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the room HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Root context with cancel on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Load configuration (defaults -> optional file -> env)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

// serve runs until ctx is cancelled or a component fails.
func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	if err := logger.InitWith(logOut, cfg.LogFormat); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := tracing.Setup(ctx, "roomsync", cfg.AppVersion, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn(ctx, "tracing shutdown", logger.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	authn, err := auth.New(cfg.AuthSecret, cfg.AuthIssuer)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init auth: %w", err)
	}
	pres := presence.NewStore(presence.WithWindow(cfg.HostGrace()))

	var hub *ws.Hub
	svc := service.New(
		service.WithConfig(cfg),
		service.WithStore(store),
		service.WithAuthenticator(authn),
		service.WithPresence(pres),
		service.WithLogger(log.Named("service")),
		service.WithDispatcher(worker.DispatchFunc(func(ctx context.Context, e queue.Event) error {
			return hub.Dispatch(ctx, e)
		})),
	)
	hub = ws.NewHub(svc, pres, ws.WithLogger(log.Named("ws")))

	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}

	apiServer := api.NewServer(svc,
		api.WithStats(svc),
		api.WithWebsocket(hub),
		api.WithLogger(log.Named("http")),
	)
	// HTTP mux and routes.
	mux := http.NewServeMux()
	apiServer.Register(mux)
	swagger.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweep(gctx, svc)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		return svc.Stop(shutdownCtx)
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

// sweep periodically drops stale presence records and idle limiters.
func sweep(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.Sweep(sweepRetain)
		}
	}
}

func newDealCmd() *cobra.Command {
	var (
		roomID    string
		round     int
		requestID string
		count     int
		lo, hi    int
	)
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Replay the deterministic values of a past deal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if roomID == "" || requestID == "" {
				return errors.New("--room and --request are required")
			}
			if count < 0 || lo > hi {
				return fmt.Errorf("invalid range: count=%d min=%d max=%d", count, lo, hi)
			}
			seed := service.DealSeed(roomID, round, requestID)
			values := dealing.GenerateDeterministicNumbers(count, lo, hi, seed)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seed %s\n", seed)
			for i, v := range values {
				fmt.Fprintf(out, "%d\t%d\n", i, v)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&roomID, "room", "", "room id")
	f.IntVar(&round, "round", 1, "round number")
	f.StringVar(&requestID, "request", "", "deal request id")
	f.IntVar(&count, "count", 0, "number of dealt seats")
	f.IntVar(&lo, "min", 1, "lowest value")
	f.IntVar(&hi, "max", 100, "highest value")
	return cmd
}
