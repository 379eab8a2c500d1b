package gateway

import (
	"log/slog"
	"strings"

	"CTPayments/internal/models"
)

// StatusTable maps a provider's status vocabulary onto the canonical set.
type StatusTable map[string]models.PaymentStatus

// Map resolves raw. Values missing from the table resolve to pending so an
// unknown status can never settle an order.
func (t StatusTable) Map(raw string) (models.PaymentStatus, bool) {
	s, ok := t[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return models.PaymentPending, false
	}
	return s, true
}

func mapStatus(logger *slog.Logger, provider models.PaymentMethod, table StatusTable, raw string) models.PaymentStatus {
	s, ok := table.Map(raw)
	if !ok {
		logger.Warn("unmapped provider status", "provider", provider, "provider_status", raw)
	}
	return s
}

var mobileMoneyStatuses = StatusTable{
	"SUCCESSFUL": models.PaymentPaid,
	"FAILED":     models.PaymentFailed,
	"REJECTED":   models.PaymentFailed,
	"TIMEOUT":    models.PaymentFailed,
	"EXPIRED":    models.PaymentFailed,
	"PENDING":    models.PaymentPending,
	"CREATED":    models.PaymentPending,
	"ONGOING":    models.PaymentPending,
}

var hostedLinkStatuses = StatusTable{
	"COMPLETED": models.PaymentPaid,
	"FAILED":    models.PaymentFailed,
	"INVALID":   models.PaymentFailed,
	"PENDING":   models.PaymentPending,
}
