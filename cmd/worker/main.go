package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"CTPayments/internal/app"
	"CTPayments/internal/config"
	"CTPayments/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.New(logging.Config{}).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	logger.Info("worker started",
		"stale_after", cfg.Worker.StaleAfter,
		"sweep_interval", cfg.Worker.SweepInterval,
		"poll_interval", cfg.Worker.PollInterval,
	)
	a.Worker.Run(ctx)
	logger.Info("worker stopped")
}
