package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CTPayments/internal/app"
	"CTPayments/internal/config"
	internalhttp "CTPayments/internal/http"
	"CTPayments/internal/logging"
	"CTPayments/internal/metrics"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.New(logging.Config{}).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	h := internalhttp.NewHandler(a.Orders, a.Engine, logger, a.Metrics)
	srv := internalhttp.NewServer(h, a.Feed, metrics.Handler(a.Registry))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	logger.Info("api stopped")
}
