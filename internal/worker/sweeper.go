package worker

import (
	"context"

	"CTPayments/internal/notify"
)

// SweepOnce requests one payment_pending_long reminder for every order that
// has been pending longer than StaleAfter and was not reminded within
// ReminderWindow. It never changes payment status.
func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	staleAfter := orDefault(w.StaleAfter, DefaultStaleAfter)
	window := orDefault(w.ReminderWindow, DefaultReminderWindow)

	orders, err := w.Store.FindStalePending(ctx, w.now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, order := range orders {
		now := w.now()
		claimed, err := w.Store.ClaimReminder(ctx, order.OrderNumber, now, now.Add(-window))
		if err != nil {
			w.Logger.Warn("claim reminder failed", "order_number", order.OrderNumber, "err", err)
			continue
		}
		if !claimed {
			continue
		}
		w.Notifier.Dispatch(ctx, notify.Request{
			Kind:      notify.KindPaymentPendingLong,
			Recipient: notify.RecipientAdmin,
			Order:     *order,
		})
		w.Metrics.Reminder()
		sent++
	}
	return sent, nil
}
