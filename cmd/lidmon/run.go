package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/lidmon/internal/config"
	"github.com/BrandonDHaskell/lidmon/internal/export"
	"github.com/BrandonDHaskell/lidmon/internal/grpcapi"
	"github.com/BrandonDHaskell/lidmon/internal/httpapi"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/notify"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/service"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store/memory"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture lid transitions until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			events   store.LidEventStore
			sessions store.SessionStore
		)
		if runDryRun {
			logger.Printf("dry run: events are kept in memory only")
			events = memory.NewLidEventStore()
			sessions = memory.NewSessionStore()
		} else {
			st := openStores(cfg)
			defer st.Close()
			events, sessions = st.events, st.sessions
		}

		pub := newPublisher(cfg, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Printf("error closing publisher: %v", err)
			}
		}()

		loop := service.NewCaptureLoop(service.CaptureConfig{
			Seat:         cfg.Seat,
			Kind:         cfg.SwitchKind(),
			WriteRetries: cfg.WriteRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, events, deviceOpener(logger), pub, logger)

		hb, err := service.NewSessionHeartbeat(sessions, pub, service.HeartbeatConfig{
			Seat:            cfg.Seat,
			IntervalSeconds: cfg.HeartbeatIntervalSeconds,
		}, logger)
		if err != nil {
			return err
		}
		// The session table exists once the loop has ensured the schema.
		var sessionStarted atomic.Bool
		loop.OnState(func(s service.State) {
			if s == service.StateWaiting && sessionStarted.CompareAndSwap(false, true) {
				if err := hb.Start(ctx); err != nil {
					logger.Printf("session start error: %v", err)
				}
			}
		})

		if cfg.GRPCAddr != "" {
			gs := grpcapi.NewServer(logger)
			loop.OnState(gs.ObserveState)

			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				logger.Printf("gRPC health listening on %s", cfg.GRPCAddr)
				if err := gs.Serve(lis); err != nil {
					logger.Printf("gRPC server error: %v", err)
				}
			}()
			defer gs.GracefulStop()
		}

		if cfg.HTTPAddr != "" {
			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:   logger,
				Addr:     cfg.HTTPAddr,
				Seat:     cfg.Seat,
				Events:   events,
				Sessions: sessions,
				Capture:  loop,
			})
			go func() {
				logger.Printf("read API listening on %s", cfg.HTTPAddr)
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("http server error: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		if cfg.Export.Schedule != "" {
			dests := exportDestinations(ctx, cfg.Export, logger)
			if len(dests) == 0 {
				logger.Printf("export schedule %q set but no destination configured", cfg.Export.Schedule)
			} else {
				sched, err := export.NewScheduler(export.NewExporter(events, dests, logger), cfg.Export.Schedule, logger)
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			}
		}

		err = loop.Run(ctx)
		if sessionStarted.Load() {
			reason := "signal"
			if err != nil {
				reason = "fatal"
			}
			hb.Stop(reason)
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "keep events in memory instead of the database")
}

// newPublisher connects to NATS when configured. Notifications are best
// effort, so a failed connection falls back to a no-op publisher.
func newPublisher(cfg config.Config, logger *log.Logger) notify.Publisher {
	if cfg.NATSURL == "" {
		logger.Printf("notifications disabled (LIDMON_NATS_URL not set)")
		return &notify.NoopPublisher{}
	}
	pub, err := notify.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		logger.Printf("notifications disabled: %v", err)
		return &notify.NoopPublisher{}
	}
	logger.Printf("notifications enabled nats_url=%s", cfg.NATSURL)
	return pub
}

// exportDestinations builds every configured export target. Targets that
// fail to initialise are logged and skipped.
func exportDestinations(ctx context.Context, cfg config.ExportConfig, logger *log.Logger) []export.Destination {
	var dests []export.Destination
	if cfg.Dir != "" {
		dests = append(dests, export.NewFileDestination(cfg.Dir))
	}
	if cfg.S3Bucket != "" {
		d, err := export.NewS3Destination(ctx, cfg.S3Bucket, cfg.S3Key, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			logger.Printf("S3 export destination disabled: %v", err)
		} else {
			dests = append(dests, d)
		}
	}
	return dests
}
