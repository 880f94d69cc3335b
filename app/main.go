package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m10z/feed-hub/app/api"
	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/cms"
	"github.com/m10z/feed-hub/app/database"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
	"github.com/m10z/feed-hub/app/ratelimit"
	"github.com/m10z/feed-hub/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting M10Z Feed Hub", "version", appCfg.Version)

	// Snapshot database
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrationVersion, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration", migrationVersion, "dirty", dirty)

	snapshotRepo := database.NewSnapshotRepository(db)
	auditRepo := database.NewAuditRepository(db)

	// Feed definitions
	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load feed definitions", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Feed definitions loaded", "dir", appCfg.FeedsDir, "count", configCache.GetConfigCount())

	// Serve last-known-good documents until the first refresh lands
	feedCache := cache.NewFeedCache()
	prewarmFeedCache(feedCache, snapshotRepo)

	ring := diag.NewRing(appCfg.DiagRingSize)
	tags := cache.NewTagSet()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	source := cms.NewClient(httpClient, appCfg.UpstreamUrl, appCfg.UpstreamToken, appCfg.UserAgent)

	scheduler := tasks.NewScheduler(configCache, feedCache, tags, source, feed.NewRenderer(), snapshotRepo, ring)
	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.SchedulerInterval)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	limiter := ratelimit.NewLimiter(time.Duration(appCfg.RateLimitWindow)*time.Second, appCfg.RateLimitMax)
	handler := api.NewHandler(configCache, feedCache, tags,
		snapshotRepo, auditRepo, scheduler, limiter, ring)
	server := api.NewServer(handler, appCfg.InvalidationSecret, appCfg.DiagnosticsToken)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func prewarmFeedCache(feedCache *cache.FeedCache, snapshotRepo database.SnapshotRepository) {
	snapshots, err := snapshotRepo.GetAllSnapshots()
	if err != nil {
		slog.Warn("Failed to load persisted snapshots", "error", err)
		return
	}

	for _, snapshot := range snapshots {
		lastModified := snapshot.LastModified
		feedCache.Prewarm(snapshot.Name, &feed.Rendered{
			XML:          snapshot.XML,
			Etag:         snapshot.Etag,
			LastModified: lastModified,
			RenderedAt:   snapshot.RenderedAt,
		})
	}

	if len(snapshots) > 0 {
		slog.Info("Feed cache prewarmed from snapshots", "count", len(snapshots))
	}
}
