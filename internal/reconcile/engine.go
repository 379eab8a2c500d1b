package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"CTPayments/internal/gateway"
	"CTPayments/internal/metrics"
	"CTPayments/internal/models"
	"CTPayments/internal/notify"
	"CTPayments/internal/store"
)

// ErrTransitionConflict marks an event whose terminal status disagrees with
// the one already stored. It is logged and never returned to providers.
var ErrTransitionConflict = errors.New("transition conflict")

var ErrManualConfirmation = errors.New("order is not settled by manual confirmation")

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
	OutcomeNoop      Outcome = "noop"
	OutcomeNotFound  Outcome = "not_found"
)

type Result struct {
	Outcome Outcome
	Order   *models.Order
}

type Engine struct {
	Store    store.OrderStore
	Gateways *gateway.Registry
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Apply converges an order to the status reported by ev. Only storage
// failures are returned as errors.
func (e *Engine) Apply(ctx context.Context, ev models.NormalizedEvent) (Result, error) {
	log := e.Logger.With(
		"provider", ev.Provider,
		"order_number", ev.OrderNumber,
		"provider_reference", ev.ProviderReference,
		"status", ev.Status,
	)

	order, err := e.resolve(ctx, ev)
	if errors.Is(err, store.ErrOrderNotFound) {
		log.Warn("event for unknown order")
		return e.done(ev, Result{Outcome: OutcomeNotFound}), nil
	}
	if err != nil {
		return Result{}, err
	}
	log = log.With("order_number", order.OrderNumber)

	if order.PaymentMethod != ev.Provider {
		log.Warn("event provider does not match order payment method", "payment_method", order.PaymentMethod)
		return e.done(ev, Result{Outcome: OutcomeNotFound}), nil
	}

	switch {
	case !ev.Status.IsCanonical():
		log.Warn("non-canonical event status ignored")
		return e.done(ev, Result{Outcome: OutcomeNoop, Order: order}), nil
	case ev.Status == models.PaymentPending:
		e.trackReference(ctx, log, order, ev.ProviderReference)
		return e.done(ev, Result{Outcome: OutcomeNoop, Order: order}), nil
	}

	if ev.Status == models.PaymentPaid && ev.Amount.Valid && !ev.Amount.Decimal.Equal(order.Total) {
		log.Warn("paid amount differs from order total", "amount", ev.Amount.Decimal.String(), "total", order.Total.String())
	}

	tr, err := e.Store.ConditionalTransition(ctx, order.OrderNumber, models.PaymentPending, ev.Status, ev.ProviderReference)
	if errors.Is(err, store.ErrOrderNotFound) {
		log.Warn("order disappeared during transition")
		return e.done(ev, Result{Outcome: OutcomeNotFound}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("transition %s: %w", order.OrderNumber, err)
	}

	if !tr.Applied {
		if tr.Order.PaymentStatus == ev.Status {
			log.Info("duplicate event ignored")
			return e.done(ev, Result{Outcome: OutcomeDuplicate, Order: tr.Order}), nil
		}
		log.Warn("conflicting event discarded",
			"stored_status", tr.Order.PaymentStatus,
			"err", ErrTransitionConflict,
		)
		return e.done(ev, Result{Outcome: OutcomeConflict, Order: tr.Order}), nil
	}

	log.Info("payment status settled", "provider_status", ev.ProviderStatus)
	// The write above has committed; only now may side effects start.
	if kind, ok := notify.KindForStatus(tr.Order.PaymentStatus); ok {
		e.Notifier.Dispatch(ctx, notify.Request{
			Kind:      kind,
			Recipient: notify.RecipientCustomer,
			Order:     *tr.Order.Clone(),
		})
	}
	return e.done(ev, Result{Outcome: OutcomeApplied, Order: tr.Order}), nil
}

// HandleWebhook authenticates and parses a provider callback, then applies it.
// Signature and payload errors are returned unwrapped for the HTTP layer.
func (e *Engine) HandleWebhook(ctx context.Context, method models.PaymentMethod, raw []byte, headers http.Header) (Result, error) {
	adapter, err := e.Gateways.For(method)
	if err != nil {
		return Result{}, err
	}
	ev, err := adapter.ParseWebhook(raw, headers)
	if err != nil {
		return Result{}, err
	}
	ev.Provider = method
	return e.Apply(ctx, *ev)
}

// Poll asks the provider for the current status of a pending order and
// applies the answer. Settled orders are returned without a provider call.
func (e *Engine) Poll(ctx context.Context, orderNumber string) (Result, error) {
	order, err := e.Store.GetOrder(ctx, orderNumber)
	if err != nil {
		return Result{}, err
	}
	if order.PaymentStatus.IsTerminal() || order.Reference() == "" {
		return Result{Outcome: OutcomeNoop, Order: order}, nil
	}

	adapter, err := e.Gateways.For(order.PaymentMethod)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	report, err := adapter.QueryStatus(ctx, order.Reference())
	e.Metrics.GatewayCall(string(order.PaymentMethod), "query_status", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return Result{}, fmt.Errorf("query status %s: %w", order.OrderNumber, err)
	}

	return e.Apply(ctx, models.NormalizedEvent{
		Provider:          order.PaymentMethod,
		OrderNumber:       order.OrderNumber,
		ProviderReference: order.Reference(),
		Status:            report.Status,
		ProviderStatus:    report.ProviderStatus,
	})
}

// Confirm settles an offline order on an operator's word.
func (e *Engine) Confirm(ctx context.Context, orderNumber string, status models.PaymentStatus) (Result, error) {
	if status != models.PaymentPaid && status != models.PaymentFailed {
		return Result{}, fmt.Errorf("confirm %s: status must be paid or failed, got %q", orderNumber, status)
	}
	order, err := e.Store.GetOrder(ctx, orderNumber)
	if err != nil {
		return Result{}, err
	}
	if order.PaymentMethod != models.MethodOffline {
		return Result{}, fmt.Errorf("%w: %s uses %s", ErrManualConfirmation, orderNumber, order.PaymentMethod)
	}
	return e.Apply(ctx, models.NormalizedEvent{
		Provider:       models.MethodOffline,
		OrderNumber:    orderNumber,
		Status:         status,
		ProviderStatus: "manual",
	})
}

func (e *Engine) resolve(ctx context.Context, ev models.NormalizedEvent) (*models.Order, error) {
	if ev.OrderNumber != "" {
		order, err := e.Store.GetOrder(ctx, ev.OrderNumber)
		if err == nil || !errors.Is(err, store.ErrOrderNotFound) || ev.ProviderReference == "" {
			return order, err
		}
	}
	if ev.ProviderReference == "" {
		return nil, store.ErrOrderNotFound
	}
	return e.Store.GetOrderByReference(ctx, ev.ProviderReference)
}

// trackReference records a new correlation id reported before settlement.
func (e *Engine) trackReference(ctx context.Context, log *slog.Logger, order *models.Order, ref string) {
	if ref == "" || ref == order.Reference() {
		return
	}
	ok, err := e.Store.SetReference(ctx, order.OrderNumber, ref)
	if err != nil {
		log.Warn("update provider reference failed", "err", err)
		return
	}
	if ok {
		log.Info("provider reference reassigned", "previous_reference", order.Reference())
	}
}

func (e *Engine) done(ev models.NormalizedEvent, r Result) Result {
	e.Metrics.Outcome(string(ev.Provider), string(r.Outcome))
	return r
}
