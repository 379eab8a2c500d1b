package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"CTPayments/internal/models"
)

const hostedLinkSignatureHeader = "X-Signature"

// Tokens from the hosted checkout API normally carry an expiryDate; this is
// used when it is missing or unparseable.
const hostedLinkTokenTTL = 5 * time.Minute

type HostedLinkConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	NotificationID string        `yaml:"notification_id"`
	CallbackURL    string        `yaml:"callback_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	Timeout        time.Duration `yaml:"timeout"`
}

func (c *HostedLinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	for name, v := range map[string]string{
		"base_url":        c.BaseURL,
		"consumer_key":    c.ConsumerKey,
		"consumer_secret": c.ConsumerSecret,
		"webhook_secret":  c.WebhookSecret,
	} {
		if v == "" {
			return fmt.Errorf("%w: gateways.hosted_link.%s is required", ErrConfig, name)
		}
	}
	return nil
}

// HostedLink creates a checkout session on a hosted payment page and
// receives signed status notifications.
type HostedLink struct {
	cfg    *HostedLinkConfig
	rest   *restClient
	tokens *tokenCache
	logger *slog.Logger
}

var _ Adapter = (*HostedLink)(nil)

func NewHostedLink(cfg *HostedLinkConfig, logger *slog.Logger) *HostedLink {
	h := &HostedLink{
		cfg:    cfg,
		rest:   newRESTClient(models.MethodHostedLink, cfg.BaseURL, cfg.Timeout),
		logger: logger.With("provider", models.MethodHostedLink),
	}
	h.tokens = newTokenCache(h.Authenticate)
	return h
}

func (h *HostedLink) Method() models.PaymentMethod {
	return models.MethodHostedLink
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type hostedTokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type hostedTokenResponse struct {
	Token      string         `json:"token"`
	ExpiryDate string         `json:"expiryDate"`
	Error      *providerError `json:"error"`
}

func (h *HostedLink) Authenticate(ctx context.Context) (Credential, error) {
	if h.cfg.ConsumerKey == "" || h.cfg.ConsumerSecret == "" {
		return Credential{}, newError(ErrAuth, models.MethodHostedLink, 0, "consumer credentials are not configured")
	}

	var resp hostedTokenResponse
	_, err := h.rest.send(ctx, call{
		method: http.MethodPost,
		path:   "/api/Auth/RequestToken",
		body:   hostedTokenRequest{ConsumerKey: h.cfg.ConsumerKey, ConsumerSecret: h.cfg.ConsumerSecret},
		out:    &resp,
	})
	if err != nil {
		return Credential{}, authFailure(models.MethodHostedLink, err)
	}
	if resp.Token == "" {
		msg := "empty token"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return Credential{}, newError(ErrAuth, models.MethodHostedLink, 0, "%s", msg)
	}

	expires, err := time.Parse(time.RFC3339, resp.ExpiryDate)
	if err != nil {
		expires = time.Now().Add(hostedLinkTokenTTL)
	}
	return Credential{Token: resp.Token, ExpiresAt: expires}, nil
}

type hostedBillingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
}

type hostedOrderRequest struct {
	ID             string               `json:"id"`
	Currency       string               `json:"currency"`
	Amount         json.Number          `json:"amount"`
	Description    string               `json:"description"`
	CallbackURL    string               `json:"callback_url,omitempty"`
	NotificationID string               `json:"notification_id,omitempty"`
	BillingAddress hostedBillingAddress `json:"billing_address"`
}

type hostedOrderResponse struct {
	OrderTrackingID   string         `json:"order_tracking_id"`
	MerchantReference string         `json:"merchant_reference"`
	RedirectURL       string         `json:"redirect_url"`
	Error             *providerError `json:"error"`
}

func (h *HostedLink) InitiatePayment(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	if h.cfg.ConsumerKey == "" || h.cfg.ConsumerSecret == "" {
		return nil, newError(ErrConfig, models.MethodHostedLink, 0, "consumer credentials are not configured")
	}
	if !req.Amount.IsPositive() {
		return nil, newError(ErrRejected, models.MethodHostedLink, 0, "amount must be positive")
	}
	if req.Payer.Email == "" && req.Payer.Phone == "" {
		return nil, newError(ErrRejected, models.MethodHostedLink, 0, "payer email or phone is required")
	}

	body := hostedOrderRequest{
		ID:             req.OrderNumber,
		Currency:       req.Currency,
		Amount:         json.Number(req.Amount.StringFixed(2)),
		Description:    "Order " + req.OrderNumber,
		CallbackURL:    h.cfg.CallbackURL,
		NotificationID: h.cfg.NotificationID,
		BillingAddress: hostedBillingAddress{
			EmailAddress: req.Payer.Email,
			PhoneNumber:  req.Payer.Phone,
			FirstName:    req.Payer.Name,
		},
	}

	var resp hostedOrderResponse
	err := h.rest.sendAuthorized(ctx, h.tokens, call{
		method: http.MethodPost,
		path:   "/api/Transactions/SubmitOrderRequest",
		body:   body,
		out:    &resp,
	})
	if err != nil {
		return nil, err
	}
	if resp.OrderTrackingID == "" || resp.RedirectURL == "" {
		msg := "missing tracking id or redirect url"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return nil, newError(ErrRejected, models.MethodHostedLink, 0, "%s", msg)
	}
	return &Initiation{ProviderReference: resp.OrderTrackingID, CheckoutURL: resp.RedirectURL}, nil
}

type hostedStatusResponse struct {
	PaymentStatusDescription string         `json:"payment_status_description"`
	MerchantReference        string         `json:"merchant_reference"`
	Amount                   amountField    `json:"amount"`
	Error                    *providerError `json:"error"`
}

func (h *HostedLink) QueryStatus(ctx context.Context, reference string) (StatusReport, error) {
	var resp hostedStatusResponse
	err := h.rest.sendAuthorized(ctx, h.tokens, call{
		method: http.MethodGet,
		path:   "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(reference),
		out:    &resp,
	})
	if err != nil {
		return StatusReport{Status: models.PaymentPending}, err
	}
	return StatusReport{
		Status:         mapStatus(h.logger, models.MethodHostedLink, hostedLinkStatuses, resp.PaymentStatusDescription),
		ProviderStatus: resp.PaymentStatusDescription,
	}, nil
}

type hostedNotification struct {
	OrderTrackingID   string      `json:"order_tracking_id"`
	MerchantReference string      `json:"merchant_reference"`
	Status            string      `json:"status"`
	Amount            amountField `json:"amount"`
}

func (h *HostedLink) ParseWebhook(raw []byte, headers http.Header) (*models.NormalizedEvent, error) {
	if !verifySignature(sha512.New, h.cfg.WebhookSecret, raw, headers.Get(hostedLinkSignatureHeader)) {
		return nil, newError(ErrInvalidSignature, models.MethodHostedLink, 0, "notification signature mismatch")
	}

	var n hostedNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, newError(ErrMalformedPayload, models.MethodHostedLink, 0, "decode notification: %v", err)
	}
	if n.Status == "" {
		return nil, newError(ErrMalformedPayload, models.MethodHostedLink, 0, "status is required")
	}
	if n.OrderTrackingID == "" && n.MerchantReference == "" {
		return nil, newError(ErrMalformedPayload, models.MethodHostedLink, 0, "order_tracking_id or merchant_reference is required")
	}
	amount, err := parseAmount(string(n.Amount))
	if err != nil {
		return nil, newError(ErrMalformedPayload, models.MethodHostedLink, 0, "amount: %v", err)
	}

	return &models.NormalizedEvent{
		Provider:          models.MethodHostedLink,
		OrderNumber:       n.MerchantReference,
		ProviderReference: n.OrderTrackingID,
		Status:            mapStatus(h.logger, models.MethodHostedLink, hostedLinkStatuses, n.Status),
		ProviderStatus:    n.Status,
		Amount:            amount,
		Raw:               raw,
	}, nil
}
