package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"CTPayments/internal/models"

	"github.com/shopspring/decimal"
)

// Adapter normalizes one payment provider. The variant set is fixed:
// mobile money, hosted checkout link and offline confirmation.
type Adapter interface {
	Method() models.PaymentMethod
	Authenticate(ctx context.Context) (Credential, error)
	InitiatePayment(ctx context.Context, req PaymentRequest) (*Initiation, error)
	QueryStatus(ctx context.Context, reference string) (StatusReport, error)
	ParseWebhook(raw []byte, headers http.Header) (*models.NormalizedEvent, error)
}

// StatusReport is a provider status lookup: the canonical status and the
// provider's own word for it.
type StatusReport struct {
	Status         models.PaymentStatus
	ProviderStatus string
}

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// expirySkew retires a credential slightly before the provider does.
const expirySkew = 30 * time.Second

func (c Credential) validAt(now time.Time) bool {
	return c.Token != "" && now.Add(expirySkew).Before(c.ExpiresAt)
}

type Payer struct {
	Name  string
	Email string
	Phone string
}

type PaymentRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Payer       Payer
}

type Initiation struct {
	ProviderReference string
	CheckoutURL       string
	// AwaitingConfirmation is set when settlement depends on an operator.
	AwaitingConfirmation bool
}

type Registry struct {
	adapters map[models.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

// For returns the adapter bound to a stored payment method.
func (r *Registry) For(method models.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, method)
	}
	return a, nil
}
