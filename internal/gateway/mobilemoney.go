package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CTPayments/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const mobileMoneySignatureHeader = "X-Callback-Signature"

type MobileMoneyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIUser           string        `yaml:"api_user"`
	APIKey            string        `yaml:"api_key"`
	SubscriptionKey   string        `yaml:"subscription_key"`
	TargetEnvironment string        `yaml:"target_environment"`
	CallbackURL       string        `yaml:"callback_url"`
	CallbackSecret    string        `yaml:"callback_secret"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c *MobileMoneyConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	for name, v := range map[string]string{
		"base_url":         c.BaseURL,
		"api_user":         c.APIUser,
		"api_key":          c.APIKey,
		"subscription_key": c.SubscriptionKey,
	} {
		if v == "" {
			return fmt.Errorf("%w: gateways.mobile_money.%s is required", ErrConfig, name)
		}
	}
	return nil
}

// MobileMoney talks to a mobile-money collection API (request-to-pay).
type MobileMoney struct {
	cfg    *MobileMoneyConfig
	rest   *restClient
	tokens *tokenCache
	logger *slog.Logger
}

var _ Adapter = (*MobileMoney)(nil)

func NewMobileMoney(cfg *MobileMoneyConfig, logger *slog.Logger) *MobileMoney {
	m := &MobileMoney{
		cfg:    cfg,
		rest:   newRESTClient(models.MethodMobileMoney, cfg.BaseURL, cfg.Timeout),
		logger: logger.With("provider", models.MethodMobileMoney),
	}
	m.tokens = newTokenCache(m.Authenticate)
	return m
}

func (m *MobileMoney) Method() models.PaymentMethod {
	return models.MethodMobileMoney
}

type momoTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *MobileMoney) Authenticate(ctx context.Context) (Credential, error) {
	if m.cfg.APIUser == "" || m.cfg.APIKey == "" || m.cfg.SubscriptionKey == "" {
		return Credential{}, newError(ErrAuth, models.MethodMobileMoney, 0, "api credentials are not configured")
	}

	h := m.baseHeader()
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(m.cfg.APIUser+":"+m.cfg.APIKey)))

	var resp momoTokenResponse
	if _, err := m.rest.send(ctx, call{method: http.MethodPost, path: "/collection/token/", header: h, out: &resp}); err != nil {
		return Credential{}, authFailure(models.MethodMobileMoney, err)
	}
	if resp.AccessToken == "" {
		return Credential{}, newError(ErrAuth, models.MethodMobileMoney, 0, "empty access token")
	}
	return Credential{
		Token:     resp.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type momoRequestToPay struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

func (m *MobileMoney) InitiatePayment(ctx context.Context, req PaymentRequest) (*Initiation, error) {
	if m.cfg.APIUser == "" || m.cfg.APIKey == "" || m.cfg.SubscriptionKey == "" {
		return nil, newError(ErrConfig, models.MethodMobileMoney, 0, "api credentials are not configured")
	}
	phone := normalizeMSISDN(req.Payer.Phone)
	if phone == "" {
		return nil, newError(ErrRejected, models.MethodMobileMoney, 0, "payer phone number is required")
	}
	if !req.Amount.IsPositive() {
		return nil, newError(ErrRejected, models.MethodMobileMoney, 0, "amount must be positive")
	}

	reference := uuid.NewString()
	h := m.baseHeader()
	h.Set("X-Reference-Id", reference)
	if m.cfg.CallbackURL != "" {
		h.Set("X-Callback-Url", m.cfg.CallbackURL)
	}

	body := momoRequestToPay{
		Amount:       req.Amount.String(),
		Currency:     req.Currency,
		ExternalID:   req.OrderNumber,
		Payer:        momoParty{PartyIDType: "MSISDN", PartyID: phone},
		PayerMessage: "Order " + req.OrderNumber,
		PayeeNote:    req.OrderNumber,
	}
	err := m.rest.sendAuthorized(ctx, m.tokens, call{
		method: http.MethodPost,
		path:   "/collection/v1_0/requesttopay",
		header: h,
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	return &Initiation{ProviderReference: reference}, nil
}

type momoStatusResponse struct {
	Status                 string `json:"status"`
	ExternalID             string `json:"externalId"`
	Amount                 string `json:"amount"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Reason                 any    `json:"reason"`
}

func (m *MobileMoney) QueryStatus(ctx context.Context, reference string) (StatusReport, error) {
	var resp momoStatusResponse
	err := m.rest.sendAuthorized(ctx, m.tokens, call{
		method: http.MethodGet,
		path:   "/collection/v1_0/requesttopay/" + url.PathEscape(reference),
		header: m.baseHeader(),
		out:    &resp,
	})
	if err != nil {
		return StatusReport{Status: models.PaymentPending}, err
	}
	return StatusReport{
		Status:         mapStatus(m.logger, models.MethodMobileMoney, mobileMoneyStatuses, resp.Status),
		ProviderStatus: resp.Status,
	}, nil
}

type momoCallback struct {
	ExternalID             string      `json:"externalId"`
	ReferenceID            string      `json:"referenceId"`
	FinancialTransactionID string      `json:"financialTransactionId"`
	Status                 string      `json:"status"`
	Amount                 amountField `json:"amount"`
	Currency               string      `json:"currency"`
}

// ParseWebhook checks the callback signature only when a callback secret is
// configured; the collection API itself does not sign callbacks.
func (m *MobileMoney) ParseWebhook(raw []byte, headers http.Header) (*models.NormalizedEvent, error) {
	if m.cfg.CallbackSecret != "" {
		if !verifySignature(sha256.New, m.cfg.CallbackSecret, raw, headers.Get(mobileMoneySignatureHeader)) {
			return nil, newError(ErrInvalidSignature, models.MethodMobileMoney, 0, "callback signature mismatch")
		}
	}

	var cb momoCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, newError(ErrMalformedPayload, models.MethodMobileMoney, 0, "decode callback: %v", err)
	}
	if cb.Status == "" {
		return nil, newError(ErrMalformedPayload, models.MethodMobileMoney, 0, "status is required")
	}
	if cb.ExternalID == "" && cb.ReferenceID == "" {
		return nil, newError(ErrMalformedPayload, models.MethodMobileMoney, 0, "externalId or referenceId is required")
	}
	amount, err := parseAmount(string(cb.Amount))
	if err != nil {
		return nil, newError(ErrMalformedPayload, models.MethodMobileMoney, 0, "amount: %v", err)
	}

	return &models.NormalizedEvent{
		Provider:          models.MethodMobileMoney,
		OrderNumber:       cb.ExternalID,
		ProviderReference: cb.ReferenceID,
		Status:            mapStatus(m.logger, models.MethodMobileMoney, mobileMoneyStatuses, cb.Status),
		ProviderStatus:    cb.Status,
		Amount:            amount,
		Raw:               raw,
	}, nil
}

func (m *MobileMoney) baseHeader() http.Header {
	h := http.Header{}
	h.Set("Ocp-Apim-Subscription-Key", m.cfg.SubscriptionKey)
	if m.cfg.TargetEnvironment != "" {
		h.Set("X-Target-Environment", m.cfg.TargetEnvironment)
	}
	return h
}

func normalizeMSISDN(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// amountField accepts an amount encoded either as a JSON string or number.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*a = amountField(v)
		return nil
	}
	*a = amountField(s)
	return nil
}

func parseAmount(v string) (decimal.NullDecimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// authFailure reports every non-transient failure of a token request as ErrAuth.
func authFailure(provider models.PaymentMethod, err error) error {
	if IsRetryable(err) {
		return err
	}
	return &Error{Kind: ErrAuth, Provider: provider, Message: err.Error()}
}
