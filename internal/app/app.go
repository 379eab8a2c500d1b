package app

import (
	"context"
	"fmt"
	"log/slog"

	"CTPayments/internal/config"
	"CTPayments/internal/db"
	"CTPayments/internal/gateway"
	"CTPayments/internal/metrics"
	"CTPayments/internal/notify"
	"CTPayments/internal/reconcile"
	"CTPayments/internal/services"
	"CTPayments/internal/store"
	"CTPayments/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
)

// App holds the components shared by the api, worker and paymentctl binaries.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Pool       *db.Pool
	Store      store.OrderStore
	Gateways   *gateway.Registry
	Feed       *notify.Feed
	Dispatcher *notify.Dispatcher
	Engine     *reconcile.Engine
	Orders     *services.OrderService
	Worker     *worker.Worker

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a, err := Assemble(cfg, logger, store.New(pool))
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	return a, nil
}

// Assemble wires every component around st.
func Assemble(cfg *config.Config, logger *slog.Logger, st store.OrderStore) (*App, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a := &App{Config: cfg, Logger: logger, Registry: reg, Metrics: m, Store: st}

	a.Gateways = Gateways(cfg, logger)

	primary, err := a.transport(cfg.Notify.Primary)
	if err != nil {
		return nil, err
	}
	fallback, err := a.transport(cfg.Notify.Fallback)
	if err != nil {
		return nil, err
	}
	a.Feed = notify.NewFeed(logger)
	a.Dispatcher = &notify.Dispatcher{
		Policy:  notify.Policy{Primary: primary, Fallback: fallback},
		Feed:    a.Feed,
		Timeout: cfg.Notify.Timeout,
		Admins:  cfg.Notify.Admins,
		Logger:  logger,
		Metrics: m,
	}

	a.Engine = &reconcile.Engine{
		Store:    st,
		Gateways: a.Gateways,
		Notifier: a.Dispatcher,
		Logger:   logger,
		Metrics:  m,
	}
	a.Orders = &services.OrderService{
		Store:    st,
		Gateways: a.Gateways,
		Engine:   a.Engine,
		Notifier: a.Dispatcher,
		Logger:   logger,
		Metrics:  m,
		Currency: cfg.Currency,
	}
	a.Worker = &worker.Worker{
		Store:          st,
		Notifier:       a.Dispatcher,
		Engine:         a.Engine,
		Logger:         logger,
		Metrics:        m,
		StaleAfter:     cfg.Worker.StaleAfter,
		ReminderWindow: cfg.Worker.ReminderWindow,
		SweepInterval:  cfg.Worker.SweepInterval,
		PollInterval:   cfg.Worker.PollInterval,
		PollBatch:      cfg.Worker.PollBatch,
	}
	return a, nil
}

// Gateways builds one adapter per enabled provider.
func Gateways(cfg *config.Config, logger *slog.Logger) *gateway.Registry {
	var adapters []gateway.Adapter
	if cfg.Gateways.MobileMoney.Enabled {
		adapters = append(adapters, gateway.NewMobileMoney(&cfg.Gateways.MobileMoney, logger))
	}
	if cfg.Gateways.HostedLink.Enabled {
		adapters = append(adapters, gateway.NewHostedLink(&cfg.Gateways.HostedLink, logger))
	}
	if cfg.Gateways.Offline.Enabled {
		adapters = append(adapters, gateway.Offline{})
	}
	return gateway.NewRegistry(adapters...)
}

func (a *App) transport(name string) (notify.Transport, error) {
	cfg := a.Config.Notify
	switch name {
	case "":
		return nil, nil
	case "log":
		return notify.Log{Logger: a.Logger}, nil
	case "http":
		return notify.NewHTTPFunction(cfg.HTTP.URL, cfg.HTTP.APIKey), nil
	case "kafka":
		k := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, k.Close)
		return k, nil
	}
	return nil, fmt.Errorf("%w: unknown notify transport %q", gateway.ErrConfig, name)
}

// Close waits for in-flight notifications, then releases resources.
func (a *App) Close() {
	a.Dispatcher.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "err", err)
		}
	}
}
