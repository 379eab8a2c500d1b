package worker

import (
	"context"
	"errors"

	"CTPayments/internal/gateway"
	"CTPayments/internal/reconcile"
)

// PollOnce queries providers for pending orders that already have a provider
// reference. Provider errors are logged per order and do not stop the batch.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	orders, err := w.Store.ListPendingWithReference(ctx, w.PollBatch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, order := range orders {
		res, err := w.Engine.Poll(ctx, order.OrderNumber)
		if err != nil {
			if errors.Is(err, gateway.ErrUnavailable) {
				w.Logger.Info("provider unavailable, will retry", "order_number", order.OrderNumber, "err", err)
			} else {
				w.Logger.Warn("poll order failed", "order_number", order.OrderNumber, "err", err)
			}
			continue
		}
		if res.Outcome == reconcile.OutcomeApplied {
			settled++
		}
	}
	return settled, nil
}
