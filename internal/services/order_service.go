package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"CTPayments/internal/gateway"
	"CTPayments/internal/metrics"
	"CTPayments/internal/models"
	"CTPayments/internal/notify"
	"CTPayments/internal/reconcile"
	"CTPayments/internal/store"

	"github.com/shopspring/decimal"
)

var (
	ErrNoItems         = errors.New("order has no items")
	ErrInvalidMethod   = errors.New("unsupported payment method")
	ErrInvalidTotal    = errors.New("order total does not match subtotal and delivery fee")
	ErrInvalidSubtotal = errors.New("order subtotal does not match its items")
	ErrMissingContact  = errors.New("customer contact is required")
	ErrEmptyNote       = errors.New("note is empty")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
)

type CheckoutRequest struct {
	OrderNumber     string
	Customer        models.Customer
	DeliveryAddress string
	Items           []models.LineItem
	Subtotal        decimal.Decimal
	DeliveryFee     decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   models.PaymentMethod
	Notes           string
}

type Checkout struct {
	Order                *models.Order
	CheckoutURL          string
	AwaitingConfirmation bool
}

type OrderService struct {
	Store    store.OrderStore
	Gateways *gateway.Registry
	Engine   *reconcile.Engine
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Currency string
	Now      func() time.Time
}

// CreateOrder stores a pending order and starts payment with the provider
// bound to its payment method. Initiation errors are returned to the caller;
// the order stays pending so the sweeper can flag it.
func (s *OrderService) CreateOrder(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	adapter, err := s.Gateways.For(req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, req.PaymentMethod)
	}

	now := s.now()
	number := strings.TrimSpace(req.OrderNumber)
	if number == "" {
		if number, err = s.Store.NextOrderNumber(ctx, now); err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		OrderNumber:     number,
		Customer:        req.Customer,
		DeliveryAddress: req.DeliveryAddress,
		Items:           req.Items,
		Subtotal:        req.Subtotal,
		DeliveryFee:     req.DeliveryFee,
		Total:           req.Total,
		Currency:        s.Currency,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.PaymentPending,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	log := s.Logger.With("order_number", order.OrderNumber, "provider", order.PaymentMethod)

	start := time.Now()
	started, err := adapter.InitiatePayment(ctx, gateway.PaymentRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Currency:    order.Currency,
		Payer: gateway.Payer{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
	})
	s.Metrics.GatewayCall(string(order.PaymentMethod), "initiate_payment", float64(time.Since(start).Milliseconds()))
	if err != nil {
		log.Warn("payment initiation failed", "err", err, "retryable", gateway.IsRetryable(err))
		if noteErr := s.Store.AppendNote(ctx, order.OrderNumber, noteLine(s.now(), "payment initiation failed: "+err.Error())); noteErr != nil {
			log.Warn("append note failed", "err", noteErr)
		}
		return nil, err
	}

	if _, err := s.Store.SetReference(ctx, order.OrderNumber, started.ProviderReference); err != nil {
		return nil, fmt.Errorf("record provider reference: %w", err)
	}
	order.PaymentReference = &started.ProviderReference
	log.Info("payment initiated", "provider_reference", started.ProviderReference)

	s.Notifier.Dispatch(ctx, notify.Request{
		Kind:      notify.KindOrderPlaced,
		Recipient: notify.RecipientAdmin,
		Order:     *order.Clone(),
	})

	return &Checkout{
		Order:                order,
		CheckoutURL:          started.CheckoutURL,
		AwaitingConfirmation: started.AwaitingConfirmation,
	}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.Store.GetOrder(ctx, orderNumber)
}

// Status returns the order after polling its provider when it is still
// pending. A provider outage degrades to the stored state.
func (s *OrderService) Status(ctx context.Context, orderNumber string) (*models.Order, error) {
	res, err := s.Engine.Poll(ctx, orderNumber)
	switch {
	case err == nil && res.Order != nil:
		return res.Order, nil
	case errors.Is(err, store.ErrOrderNotFound):
		return nil, err
	case err != nil:
		s.Logger.Warn("status poll failed", "order_number", orderNumber, "err", err)
	}
	return s.Store.GetOrder(ctx, orderNumber)
}

// AddNote appends a timestamped note. With notifyCustomer set, the customer
// receives a status_update carrying the note.
func (s *OrderService) AddNote(ctx context.Context, orderNumber, text string, notifyCustomer bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyNote
	}
	if err := s.Store.AppendNote(ctx, orderNumber, noteLine(s.now(), text)); err != nil {
		return err
	}
	if !notifyCustomer {
		return nil
	}
	order, err := s.Store.GetOrder(ctx, orderNumber)
	if err != nil {
		return err
	}
	s.Notifier.Dispatch(ctx, notify.Request{
		Kind:      notify.KindStatusUpdate,
		Recipient: notify.RecipientCustomer,
		Order:     *order,
		Note:      text,
	})
	return nil
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func validate(req CheckoutRequest) error {
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidQuantity, item.Name)
		}
	}
	if req.Customer.Phone == "" && req.Customer.Email == "" {
		return ErrMissingContact
	}
	if !req.Total.IsPositive() || !req.Subtotal.Add(req.DeliveryFee).Equal(req.Total) {
		return ErrInvalidTotal
	}
	sum := decimal.Zero
	for _, item := range req.Items {
		sum = sum.Add(item.LineTotal())
	}
	if !sum.Equal(req.Subtotal) {
		return fmt.Errorf("%w: items sum to %s", ErrInvalidSubtotal, sum.String())
	}
	return nil
}

func noteLine(at time.Time, text string) string {
	return "[" + at.UTC().Format(time.RFC3339) + "] " + text
}
