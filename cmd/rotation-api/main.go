package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rotation/internal/api"
	"rotation/internal/charts"
	"rotation/internal/config"
	"rotation/internal/engine"
	"rotation/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel(cfg.LogLevel)}))

	specs, err := config.LoadCharts(cfg.ChartsFile)
	if err != nil {
		logger.Error("load charts failed", "err", err)
		os.Exit(1)
	}
	catalog, err := charts.NewCatalog(specs)
	if err != nil {
		logger.Error("chart catalog invalid", "err", err)
		os.Exit(1)
	}

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	rec, err := store.Bootstrap(ctx, backend, time.Now().UTC(), cfg.TurnDuration, cfg.StartupSeed)
	if err != nil {
		logger.Error("store bootstrap failed", "err", err)
		os.Exit(1)
	}

	eng, err := engine.New(backend, engine.Options{
		Logger:     logger,
		Params:     cfg.Economy,
		Catalog:    catalog,
		Lease:      cfg.Lease,
		StuckAfter: cfg.StuckAfter,
		Seed:       cfg.SimSeed,
	})
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, eng, backend)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("rotation api listening",
		"addr", cfg.Addr,
		"store", cfg.Store.Driver,
		"turn", rec.CurrentTurn,
		"turn_duration", rec.TurnDuration.String(),
		"charts", len(specs),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
