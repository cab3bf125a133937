package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/parkgate/internal/config"
	"github.com/BrandonDHaskell/parkgate/internal/db"
	"github.com/BrandonDHaskell/parkgate/internal/grpcapi"
	"github.com/BrandonDHaskell/parkgate/internal/httpapi"
	"github.com/BrandonDHaskell/parkgate/internal/logging"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store/jsonfile"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/store/sqlite"
	"github.com/BrandonDHaskell/parkgate/internal/parkgate/types"
	"github.com/BrandonDHaskell/parkgate/internal/serialport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "parkgate-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlagSet("parkgate-server")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Roster backend
	backend, closeBackend, err := openRosterBackend(ctx, cfg.Roster)
	if err != nil {
		return err
	}
	defer closeBackend()

	roster := service.NewRoster(backend)
	if err := roster.Load(ctx); err != nil {
		// Refuse to run over an unreadable roster: the first save would
		// overwrite it.
		return fmt.Errorf("load roster: %w", err)
	}
	logger.Info("roster loaded", zap.String("backend", cfg.Roster.Backend), zap.Int("entries", roster.Len()))

	// Services
	trusted := cfg.Trusted
	if trusted == nil {
		trusted = service.DefaultTrusted()
	}
	engine := service.NewEngine(
		roster,
		service.NewResolver(trusted, roster),
		service.NewAllocator(cfg.Slots),
		service.NewAuditLog(),
		service.NewDeviceSync(),
		service.EngineOptions{
			QueueLimit: cfg.QueueLimit,
			Logger:     logger.Named("engine"),
			OnPrompt: func(p types.Prompt) {
				logger.Info("operator input required",
					zap.String("prompt_id", p.ID), zap.String("kind", string(p.Kind)), zap.String("tag", p.TagID.String()))
			},
		},
	)

	var health *grpcapi.HealthServer
	observers := []serialport.Observer{engine}
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewHealthServer(logger.Named("grpc"))
		observers = append(observers, health)
	}

	link := serialport.NewLink(engine, serialport.Config{
		Baud:         cfg.Serial.Baud,
		ReadTimeout:  cfg.Serial.ReadTimeout,
		RetryBackoff: cfg.Serial.RetryBackoff,
	}, logger.Named("serial"), observers...)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger.Named("http"),
		Addr:        cfg.HTTPAddr,
		Engine:      engine,
		Link:        link,
		BaseContext: ctx,
	})

	var grpcLis net.Listener
	if health != nil {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
	}

	if cfg.Serial.Port != "" {
		if err := link.Connect(ctx, cfg.Serial.Port); err != nil {
			// Not fatal: the operator can connect later over HTTP.
			logger.Error("serial auto-connect failed", zap.String("port", cfg.Serial.Port), zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if health != nil {
		g.Go(func() error { return health.Serve(grpcLis) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		if lerr := link.Disconnect(); lerr != nil && !errors.Is(lerr, serialport.ErrNotConnected) {
			logger.Warn("serial disconnect", zap.Error(lerr))
		}
		if health != nil {
			health.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// openRosterBackend returns the configured backend and a func that
// releases it.
func openRosterBackend(ctx context.Context, cfg config.RosterConfig) (store.RosterBackend, func(), error) {
	if cfg.Backend != "sqlite" {
		return jsonfile.NewRosterStore(cfg.Path), func() {}, nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, nil, fmt.Errorf("open roster db: %w", err)
	}
	writer := db.NewWorker(sqlDB)
	closeFn := func() {
		writer.Close()
		_ = sqlDB.Close()
	}
	return sqlite.NewRosterStore(sqlDB, writer), closeFn, nil
}
