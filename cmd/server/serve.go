package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/victoredede21/xss-educational-lab/internal/api"
	"github.com/victoredede21/xss-educational-lab/internal/catalog"
	"github.com/victoredede21/xss-educational-lab/internal/config"
	"github.com/victoredede21/xss-educational-lab/internal/dispatch"
	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/execution"
	"github.com/victoredede21/xss-educational-lab/internal/hub"
	"github.com/victoredede21/xss-educational-lab/internal/logging"
	"github.com/victoredede21/xss-educational-lab/internal/ratelimit"
	"github.com/victoredede21/xss-educational-lab/internal/session"
	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

const limiterIdle = 10 * time.Minute

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), flags.configFile, flags.envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		return store.OpenSQLite(ctx, cfg.Path)
	default:
		return store.NewMemory(), nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	logger.Warn("XSS Educational Lab: for isolated security training only")

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.WithField("driver", cfg.Storage.Driver).Info("Storage ready")

	events := eventlog.New(st, logger)
	sessions := session.NewManager(st, events, cfg.Session.StaleAfter)
	modules := catalog.New(st)
	seeded, err := modules.Seed(ctx, cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if seeded > 0 {
		logger.WithField("modules", seeded).Info("Command catalog seeded")
	}
	tracker := execution.NewTracker(st, events)

	observers := hub.New(logger)
	dispatcher := dispatch.New(dispatch.Config{
		Sessions:     sessions,
		Catalog:      modules,
		Tracker:      tracker,
		Events:       events,
		Observers:    observers,
		PollInterval: cfg.Hook.PollInterval,
		Logger:       logger,
	})
	observers.SetHandler(dispatcher)

	reaper := session.NewReaper(sessions, cfg.Session.OfflineAfter, cfg.Session.ReapInterval, logger)
	reaper.OnChange = func(ctx context.Context, _ []*models.Session) {
		if err := dispatcher.BroadcastBrowsers(ctx); err != nil {
			logger.WithError(err).Warn("Failed to announce offline sessions")
		}
	}

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.HookPerMinute, cfg.RateLimit.Burst)

	handler := api.NewHandler(api.Deps{
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Catalog:    modules,
		Tracker:    tracker,
		Events:     events,
		PublicURL:  cfg.Server.PublicURL,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.SetupRoutes(observers, rateLimiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":          cfg.Server.Addr,
			"poll_interval": cfg.Hook.PollInterval.String(),
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return reaper.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rateLimiter.Prune(limiterIdle)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		observers.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped cleanly")
	return nil
}
