package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/client"
	"github.com/alfredjeanlab/opreport/internal/config"
	"github.com/alfredjeanlab/opreport/internal/events"
	"github.com/alfredjeanlab/opreport/internal/report"
	"github.com/alfredjeanlab/opreport/internal/server"
	"github.com/alfredjeanlab/opreport/internal/store"
	"github.com/alfredjeanlab/opreport/internal/store/postgres"
	reportsync "github.com/alfredjeanlab/opreport/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the opr HTTP and gRPC server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: serveLogLevel()}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Repository: HAL client behind the retry policy.
		policy := client.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.RetryAttempts
		repo := client.NewRetryingRepository(
			client.NewHTTPClient(cfg.APIURL, cfg.APIToken,
				client.WithTimeouts(cfg.ConnectTimeout, cfg.ReadTimeout),
				client.WithDimensionField(cfg.DimensionField),
			),
			policy, logger,
		)
		defer repo.Close()

		engine := report.NewEngine(repo, report.Config{
			TemplateDimension: cfg.TemplateDimension,
			TemplateHint:      cfg.TemplateHint,
			Concurrency:       cfg.Concurrency,
			Rollup:            cfg.Rollup,
			Logger:            logger,
		})

		// Create event publisher.
		var bus events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			bus = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			bus = &events.NoopPublisher{}
			logger.Info("events disabled (OPREPORT_NATS_URL not set)")
		}
		hub := server.NewHub()
		publisher := server.NewBroadcastPublisher(hub, bus)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}
		}()

		// History store is optional.
		var history store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			history = pg
			defer func() {
				if err := history.Close(); err != nil {
					logger.Error("error closing store", "err", err)
				}
			}()
			logger.Info("run history enabled")
		}

		svc := report.NewService(engine, report.NewCache(cfg.CacheTTL), report.ServiceConfig{
			ProjectID: cfg.ProjectID,
			Publisher: publisher,
			Store:     history,
			Logger:    logger,
		})
		rs := server.NewReportServer(svc, hub, server.Options{
			Auth:        server.NewAuthenticator(cfg.AuthToken, cfg.JWTSecret),
			CORSOrigins: cfg.CORSOrigins,
			Logger:      logger,
		})

		// Start gRPC listener.
		grpcServer := server.NewGRPCServer(rs)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// Start HTTP server. WriteTimeout stays unset for the SSE stream.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           rs.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start sync scheduler if any destinations are configured. Its first
		// tick computes the initial report; otherwise warm the cache here.
		scheduler := newScheduler(cfg, svc, logger)
		if scheduler != nil {
			scheduler.Start()
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
		} else if runID, err := svc.Refresh(context.Background(), ""); err == nil {
			logger.Info("initial report started", "run", runID)
		}

		logger.Info("opr server started",
			"project", cfg.ProjectID,
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"cache_ttl", cfg.CacheTTL,
			"rollup", cfg.Rollup,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}

func serveLogLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newScheduler builds the snapshot scheduler, or returns nil when syncing is
// disabled or has no usable destination.
func newScheduler(cfg *config.Config, svc *report.Service, logger *slog.Logger) *reportsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []reportsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := reportsync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}

	if cfg.SyncGitRepo != "" {
		dests = append(dests, reportsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}

	if len(dests) == 0 {
		logger.Warn("sync interval set but no destination configured")
		return nil
	}
	return reportsync.NewScheduler(svc, cfg.ProjectID, dests, cfg.SyncInterval, logger)
}
