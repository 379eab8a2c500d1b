package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// IsTerminal reports whether no automatic transition may leave s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentRefunded
}

// IsCanonical reports whether s belongs to the vocabulary gateways map into.
func (s PaymentStatus) IsCanonical() bool {
	return s == PaymentPending || s == PaymentPaid || s == PaymentFailed
}

func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return s, nil
	}
	return "", fmt.Errorf("invalid payment status %q", v)
}

type PaymentMethod string

const (
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodHostedLink  PaymentMethod = "hosted_link"
	MethodOffline     PaymentMethod = "offline"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodMobileMoney, MethodHostedLink, MethodOffline:
		return true
	}
	return false
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type LineItem struct {
	Name       string          `json:"name"`
	Restaurant string          `json:"restaurant"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID               string
	OrderNumber      string
	Customer         Customer
	DeliveryAddress  string
	Items            []LineItem
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	Total            decimal.Decimal
	Currency         string
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentReference *string
	Notes            string
	ReminderCount    int
	LastReminderAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reference returns the provider reference or "" when none is known yet.
func (o *Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.PaymentReference != nil {
		ref := *o.PaymentReference
		c.PaymentReference = &ref
	}
	if o.LastReminderAt != nil {
		at := *o.LastReminderAt
		c.LastReminderAt = &at
	}
	return &c
}

// NormalizedEvent is a provider callback or poll result translated into the
// canonical vocabulary.
type NormalizedEvent struct {
	Provider          PaymentMethod
	OrderNumber       string
	ProviderReference string
	Status            PaymentStatus
	ProviderStatus    string
	Amount            decimal.NullDecimal
	Raw               []byte
}
