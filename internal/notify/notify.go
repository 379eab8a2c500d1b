package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"CTPayments/internal/metrics"
	"CTPayments/internal/models"
)

type Kind string

const (
	KindOrderPlaced        Kind = "order_placed"
	KindPaymentSuccess     Kind = "payment_success"
	KindPaymentFailed      Kind = "payment_failed"
	KindPaymentPendingLong Kind = "payment_pending_long"
	KindStatusUpdate       Kind = "status_update"
)

type Recipient string

const (
	RecipientAdmin    Recipient = "admin"
	RecipientCustomer Recipient = "customer"
)

// Request asks for one notification about a snapshot of an order.
type Request struct {
	Kind      Kind
	Recipient Recipient
	Order     models.Order
	Note      string
}

// Notifier is what the payment flow depends on. Dispatch never blocks on
// delivery and never reports failure.
type Notifier interface {
	Dispatch(ctx context.Context, req Request)
}

// Transport hands a message to an external email/SMS sender.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Policy is the declared delivery order: Primary first, then Fallback once.
type Policy struct {
	Primary  Transport
	Fallback Transport
}

func (p Policy) stages() []Transport {
	var out []Transport
	if p.Primary != nil {
		out = append(out, p.Primary)
	}
	if p.Fallback != nil {
		out = append(out, p.Fallback)
	}
	return out
}

// Delivery reports which transport accepted a message, if any.
type Delivery struct {
	Transport string
	Attempts  int
	Delivered bool
}

const defaultTimeout = 10 * time.Second

type Dispatcher struct {
	Policy Policy
	// Feed mirrors admin notifications to connected dashboards. Optional.
	Feed    *Feed
	Timeout time.Duration
	Admins  []string
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	wg sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

// Dispatch delivers req in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(context.WithoutCancel(ctx), req)
	}()
}

// Wait blocks until every dispatched request has finished its attempts.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver runs the policy synchronously. Each stage is bounded by Timeout.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) Delivery {
	msg := NewMessage(req, d.Admins)
	if req.Recipient == RecipientAdmin && d.Feed != nil {
		d.Feed.Publish(msg)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var out Delivery
	for _, t := range d.Policy.stages() {
		out.Attempts++
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err := t.Send(sendCtx, msg)
		cancel()
		if err == nil {
			out.Transport = t.Name()
			out.Delivered = true
			d.Metrics.Notification(t.Name(), "sent")
			d.Logger.Info("notification sent",
				"order_number", msg.OrderNumber,
				"kind", msg.Kind,
				"recipient", msg.Recipient,
				"transport", t.Name(),
			)
			return out
		}
		d.Metrics.Notification(t.Name(), "failed")
		d.Logger.Warn("notification transport failed",
			"order_number", msg.OrderNumber,
			"kind", msg.Kind,
			"transport", t.Name(),
			"err", err,
		)
	}

	d.Logger.Error("notification dropped",
		"order_number", msg.OrderNumber,
		"kind", msg.Kind,
		"recipient", msg.Recipient,
		"attempts", out.Attempts,
	)
	return out
}
