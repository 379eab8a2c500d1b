package gateway

import (
	"context"
	"net/http"

	"CTPayments/internal/models"
)

type OfflineConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Offline covers cash and bank-transfer orders. Settlement only happens when
// an operator confirms the order.
type Offline struct{}

var _ Adapter = Offline{}

func (Offline) Method() models.PaymentMethod {
	return models.MethodOffline
}

func (Offline) Authenticate(ctx context.Context) (Credential, error) {
	return Credential{}, nil
}

func (Offline) InitiatePayment(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	return &Initiation{
		ProviderReference:    "offline-" + req.OrderNumber,
		AwaitingConfirmation: true,
	}, nil
}

func (Offline) QueryStatus(ctx context.Context, reference string) (StatusReport, error) {
	return StatusReport{Status: models.PaymentPending, ProviderStatus: "awaiting_confirmation"}, nil
}

func (Offline) ParseWebhook(raw []byte, headers http.Header) (*models.NormalizedEvent, error) {
	return nil, newError(ErrMalformedPayload, models.MethodOffline, 0, "offline payments have no webhook")
}
