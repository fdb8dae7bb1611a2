package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rotation/internal/cli"
	"rotation/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadPingerFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel(cfg.LogLevel)}))
	client := cli.NewClient(cfg.APIBaseURL, cfg.APIToken)

	if cfg.RunOnce {
		if err := ping(ctx, client, logger); err != nil {
			logger.Error("ping failed", "err", err)
			os.Exit(1)
		}
		logger.Info("pinger run-once completed")
		return
	}
	if cfg.Every <= 0 {
		logger.Error("ROTATION_PING_EVERY must be positive")
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.Every)
	defer ticker.Stop()

	logger.Info("pinger started", "api", cfg.APIBaseURL, "every", cfg.Every.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("pinger shutdown")
			return
		case <-ticker.C:
			if err := ping(ctx, client, logger); err != nil {
				logger.Error("ping failed", "err", err)
			}
		}
	}
}

// ping is one trigger attempt. not_due and already_processing are normal
// answers and only logged at debug.
func ping(ctx context.Context, client *cli.Client, logger *slog.Logger) error {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := client.Advance(reqCtx)
	if err != nil {
		return err
	}
	switch out.Status {
	case "advanced":
		logger.Info("turn advanced", "new_turn", out.NewTurn)
	default:
		logger.Debug("ping answered", "status", out.Status, "time_remaining", out.TimeRemaining)
	}
	return nil
}
