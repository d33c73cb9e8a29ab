// Package server builds the watcher's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/freegame-watcher/internal/activator"
	"github.com/JakeFAU/freegame-watcher/internal/api"
	"github.com/JakeFAU/freegame-watcher/internal/clock/system"
	"github.com/JakeFAU/freegame-watcher/internal/collector"
	"github.com/JakeFAU/freegame-watcher/internal/config"
	"github.com/JakeFAU/freegame-watcher/internal/dedup"
	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
	"github.com/JakeFAU/freegame-watcher/internal/fetcher/httpstream"
	"github.com/JakeFAU/freegame-watcher/internal/id/uuid"
	"github.com/JakeFAU/freegame-watcher/internal/metrics"
	"github.com/JakeFAU/freegame-watcher/internal/mirror"
	"github.com/JakeFAU/freegame-watcher/internal/parser"
	"github.com/JakeFAU/freegame-watcher/internal/pipeline"
	"github.com/JakeFAU/freegame-watcher/internal/policy/ratelimit"
	"github.com/JakeFAU/freegame-watcher/internal/race"
	"github.com/JakeFAU/freegame-watcher/internal/scheduler"
	"github.com/JakeFAU/freegame-watcher/internal/storage"
)

// App contains the watcher's long-lived dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	collector    *collector.Collector
	closeBackend storage.CloseFunc
	pubsubClient *pubsub.Client
	pubsubAct    *activator.PubSubActivator
}

// Build creates the application's dependencies and restores every account's
// dedup store.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}

	backend, closeBackend, err := storage.Open(ctx, cfg.Snapshot, logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot backend init failed: %w", err)
	}
	app.closeBackend = closeBackend

	act, err := app.setupActivator(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	persister := dedupstore.NewPersister(backend, logger.Named("dedupstore"))
	accounts := make([]*collector.Account, 0, len(cfg.Accounts))
	for _, name := range cfg.Accounts {
		accounts = append(accounts, collector.NewAccount(name, persister, logger.Named("account")))
	}
	if len(accounts) == 0 {
		logger.Warn("no accounts configured; cycles will only collect the feed")
	}
	if err := collector.LoadAll(ctx, accounts); err != nil {
		app.Close()
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	clock := system.New()
	resolver := mirror.New(mirror.Config{
		Static:       cfg.Mirrors.Static,
		DirectoryURL: cfg.Mirrors.DirectoryURL,
		DirectoryTTL: cfg.Mirrors.DirectoryTTL,
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTP.Timeout,
	}, logger.Named("mirror"))

	fetcher := httpstream.New(httpstream.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Timeout:         cfg.HTTP.Timeout,
		MaxConnsPerHost: cfg.HTTP.MaxConnsPerHost,
	})
	pacer := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		OnDelay:           metrics.ObservePacingDelay,
	})
	merger := dedup.NewMerger(dedup.Config{
		Capacity:          cfg.Merge.Capacity,
		FreeToPlayMarkers: cfg.Merge.FreeToPlayMarkers,
		DLCMarkers:        cfg.Merge.DLCMarkers,
	}, logger.Named("dedup"))
	pipe := pipeline.New(fetcher, parser.New(cfg.Mirrors.ItemSelector), merger, clock, pacer, pipeline.Config{
		Retries:      cfg.Race.Retries,
		BackoffBase:  cfg.Race.BackoffBase,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		FeedPath:     cfg.Mirrors.FeedPath,
	}, logger.Named("pipeline"))
	racer := race.New(pipe, race.Config{
		Deadline:    cfg.Race.Deadline,
		Concurrency: int64(cfg.Race.Concurrency),
	}, logger.Named("race"))

	app.collector = collector.New(resolver, racer, act, accounts, uuid.New(), clock, logger)
	logger.Info("watcher built",
		zap.Int("accounts", len(accounts)),
		zap.Int("static_mirrors", len(cfg.Mirrors.Static)),
		zap.Bool("directory", cfg.Mirrors.DirectoryURL != ""),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
	)
	return app, nil
}

func (a *App) setupActivator(ctx context.Context) (activator.Activator, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Warn("no Pub/Sub topic configured; activations are only logged")
		return activator.NewLogActivator(a.logger), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubAct = activator.NewPubSubActivator(client.Topic(a.cfg.PubSub.Topic), a.logger)
	a.logger.Info("Pub/Sub activator initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pubsubAct, nil
}

// Collector exposes the collector for one-shot commands.
func (a *App) Collector() *collector.Collector {
	return a.collector
}

// RunOnce runs a single collection cycle.
func (a *App) RunOnce(ctx context.Context) error {
	return a.collector.Collect(ctx)
}

// Run schedules cycles and serves the ops API until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(a.cfg.Schedule.Interval, a.collector.Collect, a.logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		apiServer := api.NewServer(a.collector, sched, a.cfg.Server, a.logger)
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.Schedule.Interval))
	runErr := sched.Run(ctx)
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return runErr
}

// Close releases clients and flushes the logger.
func (a *App) Close() {
	if a.pubsubAct != nil {
		a.pubsubAct.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.closeBackend != nil {
		if err := a.closeBackend(); err != nil {
			a.logger.Warn("snapshot backend close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
