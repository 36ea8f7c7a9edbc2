package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/NplusM420/think-marketplace/internal/catalog"
	"github.com/NplusM420/think-marketplace/internal/database"
	"github.com/NplusM420/think-marketplace/internal/events"
	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/metrics"
	"github.com/NplusM420/think-marketplace/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve runs until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, cfg *Config, log logger.Logger) error {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}

	gate, err := newGate(cfg.Admin)
	if err != nil {
		return err
	}
	if !gate.Configured() {
		log.Warn("No admin code configured; admin login is disabled")
	}

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	m := metrics.New()
	store := listing.NewStore(db)
	app := &App{
		store: store,
		reviewer: listing.NewReviewer(store, gate,
			listing.WithPublisher(publisher),
			listing.WithObserver(m),
			listing.WithLogger(log),
		),
		gate:         gate,
		metrics:      m,
		log:          log,
		secureCookie: cfg.Admin.SecureCookie,
	}

	if cfg.Export.Interval > 0 {
		dests, err := exportDestinations(ctx, cfg.Export)
		if err != nil {
			return err
		}
		sched := catalog.NewScheduler(store, dests, cfg.Export.Interval,
			catalog.WithObserver(m),
			catalog.WithLogger(log),
		)
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           SetupRoutes(app),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Marketplace listening",
			logger.String("addr", srv.Addr),
			logger.String("db_driver", cfg.Database.Driver),
			logger.String("events_driver", cfg.Events.Driver),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down", logger.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newGate(cfg AdminConfig) (*session.Gate, error) {
	return session.NewGate(session.Config{
		Code:          cfg.Code,
		CodeHash:      cfg.CodeHash,
		SigningSecret: cfg.SessionSecret,
		TTL:           cfg.SessionTTL,
	})
}

func newPublisher(ctx context.Context, cfg EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case eventsNATS:
		return events.NewNATSPublisher(cfg.NATSURL)
	case eventsRedis:
		return events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})
	default:
		return events.NoopPublisher{}, nil
	}
}

func exportDestinations(ctx context.Context, cfg ExportConfig) ([]catalog.Destination, error) {
	var dests []catalog.Destination
	if cfg.FilePath != "" {
		dests = append(dests, catalog.NewFileDestination(cfg.FilePath))
	}
	if cfg.S3.Bucket != "" {
		s3, err := catalog.NewS3Destination(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		dests = append(dests, s3)
	}
	return dests, nil
}
