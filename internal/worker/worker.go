package worker

import (
	"context"
	"log/slog"
	"time"

	"CTPayments/internal/metrics"
	"CTPayments/internal/notify"
	"CTPayments/internal/reconcile"
	"CTPayments/internal/store"
)

const (
	DefaultStaleAfter     = 24 * time.Hour
	DefaultReminderWindow = 24 * time.Hour
)

// Poller is the part of the reconciliation engine the worker drives.
type Poller interface {
	Poll(ctx context.Context, orderNumber string) (reconcile.Result, error)
}

type Worker struct {
	Store    store.OrderStore
	Notifier notify.Notifier
	Engine   Poller
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	StaleAfter     time.Duration
	ReminderWindow time.Duration
	SweepInterval  time.Duration
	PollInterval   time.Duration
	PollBatch      int
	Now            func() time.Time
}

// Run sweeps and polls on their own tickers until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	sweep := time.NewTicker(orDefault(w.SweepInterval, time.Hour))
	defer sweep.Stop()

	var pollC <-chan time.Time
	if w.Engine != nil && w.PollInterval > 0 {
		poll := time.NewTicker(w.PollInterval)
		defer poll.Stop()
		pollC = poll.C
	}

	w.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			w.runSweep(ctx)
		case <-pollC:
			if _, err := w.PollOnce(ctx); err != nil {
				w.Logger.Error("poll pending failed", "err", err)
			}
		}
	}
}

func (w *Worker) runSweep(ctx context.Context) {
	n, err := w.SweepOnce(ctx)
	if err != nil {
		w.Logger.Error("sweep failed", "err", err)
		return
	}
	w.Logger.Info("sweep finished", "reminders", n)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
