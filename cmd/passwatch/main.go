package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/passwatch/internal/api"
	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/config"
	"github.com/star/passwatch/internal/horizon"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/stations"
	"github.com/star/passwatch/internal/stream"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/tracing"
	"github.com/star/passwatch/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	lvl, err := cfg.SlogLevel()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(lvl)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	st, err := stations.Load(cfg.StationsFile)
	if err != nil {
		logger.Error("failed to load ground stations", "path", cfg.StationsFile, "error", err)
		os.Exit(1)
	}
	logger.Info("ground stations loaded", "count", len(st), "path", cfg.StationsFile)

	loader := tle.NewLoader(tle.LoaderConfig{
		Name:        cfg.Spacecraft,
		File:        cfg.TLE.File,
		EnableFetch: cfg.TLE.EnableFetch,
		BaseURL:     cfg.TLE.SourceURL,
		ExtraURLs:   cfg.TLE.ExtraURLs,
		CacheDir:    cfg.TLE.CacheDir,
		MaxFiles:    cfg.TLE.MaxFiles,
	}, logger)
	store := tle.NewStore()

	pool := propagation.NewWorkerPool(cfg.Prediction.Workers, logger)
	metrics.SetPropagationWorkers(pool.Workers())

	tracker := horizon.NewTracker(horizon.Config{
		Resolution:      cfg.Prediction.Resolution,
		Horizon:         cfg.Prediction.Horizon,
		Threshold:       cfg.Prediction.Threshold,
		Workers:         cfg.Prediction.Workers,
		RefreshInterval: cfg.Prediction.RefreshInterval,
		CheckInterval:   cfg.TLE.CheckInterval,
	}, st, loader, store, pool, logger)

	// Nothing can be served without a first horizon.
	if _, err := tracker.Init(ctx); err != nil {
		logger.Error("failed to build initial pass catalog", "error", err)
		os.Exit(1)
	}
	go tracker.Start(ctx)

	streamHandler := stream.NewHandler(tracker, stream.Config{
		LiveInterval:       cfg.Stream.LiveInterval,
		TrackInterval:      cfg.Stream.TrackInterval,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		TrustProxy:         cfg.TrustProxy,
	}, logger)

	srv := api.NewServer(api.Options{
		Addr:   cfg.HTTPAddr,
		Auth:   auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		Stream: streamHandler,
		Static: web.Content,
	}, tracker, logger)

	// Background goroutine to update TLE dataset age and horizon gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				if age := store.Age(now); age >= 0 {
					metrics.SetTLEDatasetAge(age)
				}
				if snap := tracker.Current(); snap != nil {
					metrics.SetHorizonRemaining(max(0, snap.Grid.End().Sub(now)))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"spacecraft", cfg.Spacecraft,
			"auth_enabled", cfg.Auth.Enabled,
			"tle_fetch_enabled", cfg.TLE.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Hijacked WebSocket connections are invisible to Shutdown.
	streamHandler.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	tracing.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	logger.Info("server stopped")
}
