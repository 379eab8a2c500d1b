package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"CTPayments/internal/gateway"
	"CTPayments/internal/metrics"
	"CTPayments/internal/models"
	"CTPayments/internal/reconcile"
	"CTPayments/internal/services"
	"CTPayments/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	maxWebhookBody = 1 << 20
	// settleTimeout bounds settlement work once it has been detached from the
	// caller's connection.
	settleTimeout = 30 * time.Second
)

type Handler struct {
	Orders  *services.OrderService
	Engine  *reconcile.Engine
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type createOrderRequest struct {
	OrderNumber     string            `json:"orderNumber"`
	Customer        models.Customer   `json:"customer"`
	DeliveryAddress string            `json:"deliveryAddress"`
	Items           []models.LineItem `json:"items"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	DeliveryFee     decimal.Decimal   `json:"deliveryFee"`
	Total           decimal.Decimal   `json:"total"`
	PaymentMethod   string            `json:"paymentMethod"`
	Notes           string            `json:"notes"`
}

type createOrderResponse struct {
	Order                orderResponse `json:"order"`
	CheckoutURL          string        `json:"checkoutUrl,omitempty"`
	AwaitingConfirmation bool          `json:"awaitingConfirmation"`
}

type orderResponse struct {
	OrderNumber      string            `json:"orderNumber"`
	Customer         models.Customer   `json:"customer"`
	DeliveryAddress  string            `json:"deliveryAddress"`
	Items            []models.LineItem `json:"items"`
	Subtotal         string            `json:"subtotal"`
	DeliveryFee      string            `json:"deliveryFee"`
	Total            string            `json:"total"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"paymentMethod"`
	PaymentStatus    string            `json:"paymentStatus"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt"`
}

type noteRequest struct {
	Text           string `json:"text"`
	NotifyCustomer bool   `json:"notifyCustomer"`
}

type confirmRequest struct {
	Status string `json:"status"`
}

type confirmResponse struct {
	Outcome string        `json:"outcome"`
	Order   orderResponse `json:"order"`
}

func NewHandler(orders *services.OrderService, engine *reconcile.Engine, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{Orders: orders, Engine: engine, Logger: logger, Metrics: m}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	checkout, err := h.Orders.CreateOrder(r.Context(), services.CheckoutRequest{
		OrderNumber:     req.OrderNumber,
		Customer:        req.Customer,
		DeliveryAddress: req.DeliveryAddress,
		Items:           req.Items,
		Subtotal:        req.Subtotal,
		DeliveryFee:     req.DeliveryFee,
		Total:           req.Total,
		PaymentMethod:   models.PaymentMethod(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, "create order failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:                toOrderResponse(checkout.Order),
		CheckoutURL:          checkout.CheckoutURL,
		AwaitingConfirmation: checkout.AwaitingConfirmation,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	if orderNumber == "" {
		writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	order, err := h.Orders.Status(r.Context(), orderNumber)
	if err != nil {
		h.writeServiceError(w, "get order failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Orders.AddNote(r.Context(), chi.URLParam(r, "orderNumber"), req.Text, req.NotifyCustomer); err != nil {
		h.writeServiceError(w, "add note failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// settleContext detaches settlement from the caller's connection; it runs to
// completion or until settleTimeout.
func settleContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), settleTimeout)
}

// webhookLabel keeps the metric label set bounded to known payment methods.
func webhookLabel(provider string) string {
	if models.PaymentMethod(provider).Valid() {
		return provider
	}
	return "unknown"
}

// Webhook acknowledges every authentic, well-formed callback with 200,
// including duplicates, conflicts and unknown orders.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	label := webhookLabel(provider)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Metrics.Webhook(label, "read_error")
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}

	ctx, cancel := settleContext(r)
	defer cancel()
	res, err := h.Engine.HandleWebhook(ctx, models.PaymentMethod(provider), body, r.Header)
	switch {
	case err == nil:
		h.Metrics.Webhook(label, string(res.Outcome))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(res.Outcome)})
	case errors.Is(err, gateway.ErrUnknownProvider):
		h.Metrics.Webhook(label, "unknown_provider")
		writeError(w, http.StatusNotFound, "unknown provider")
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.Metrics.Webhook(label, "invalid_signature")
		h.Logger.Warn("webhook signature rejected", "provider", provider, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, gateway.ErrMalformedPayload):
		h.Metrics.Webhook(label, "malformed")
		h.Logger.Warn("malformed webhook", "provider", provider, "err", err)
		writeError(w, http.StatusBadRequest, "malformed payload")
	default:
		h.Metrics.Webhook(label, "error")
		h.Logger.Error("webhook processing failed", "provider", provider, "err", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	status, err := models.ParsePaymentStatus(req.Status)
	if err != nil || (status != models.PaymentPaid && status != models.PaymentFailed) {
		writeError(w, http.StatusBadRequest, "status must be paid or failed")
		return
	}

	ctx, cancel := settleContext(r)
	defer cancel()
	res, err := h.Engine.Confirm(ctx, chi.URLParam(r, "orderNumber"), status)
	if err != nil {
		h.writeServiceError(w, "confirm payment failed", err)
		return
	}
	if res.Outcome == reconcile.OutcomeConflict {
		writeJSON(w, http.StatusConflict, confirmResponse{Outcome: string(res.Outcome), Order: toOrderResponse(res.Order)})
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{Outcome: string(res.Outcome), Order: toOrderResponse(res.Order)})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, store.ErrDuplicateOrderNumber):
		writeError(w, http.StatusConflict, "order number already exists")
	case errors.Is(err, reconcile.ErrManualConfirmation):
		writeError(w, http.StatusConflict, "order is settled by its payment provider")
	case errors.Is(err, services.ErrNoItems),
		errors.Is(err, services.ErrInvalidMethod),
		errors.Is(err, services.ErrInvalidTotal),
		errors.Is(err, services.ErrInvalidSubtotal),
		errors.Is(err, services.ErrMissingContact),
		errors.Is(err, services.ErrEmptyNote),
		errors.Is(err, services.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "payment rejected by provider")
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrAuth):
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		h.Logger.Error(msg, "err", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func toOrderResponse(o *models.Order) orderResponse {
	if o == nil {
		return orderResponse{}
	}
	return orderResponse{
		OrderNumber:      o.OrderNumber,
		Customer:         o.Customer,
		DeliveryAddress:  o.DeliveryAddress,
		Items:            o.Items,
		Subtotal:         o.Subtotal.StringFixed(2),
		DeliveryFee:      o.DeliveryFee.StringFixed(2),
		Total:            o.Total.StringFixed(2),
		Currency:         o.Currency,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentReference: o.Reference(),
		Notes:            o.Notes,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        o.UpdatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
