package notify

import (
	"time"

	"CTPayments/internal/models"

	"github.com/google/uuid"
)

// Message is the transport payload. Templates are selected downstream by Kind.
type Message struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Recipient     Recipient `json:"recipient"`
	To            []string  `json:"to"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	PaymentMethod string    `json:"paymentMethod"`
	PaymentStatus string    `json:"paymentStatus"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewMessage(req Request, admins []string) Message {
	o := req.Order
	msg := Message{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		Recipient:     req.Recipient,
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.Customer.Name,
		CustomerPhone: o.Customer.Phone,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		Note:          req.Note,
		CreatedAt:     time.Now().UTC(),
	}
	switch req.Recipient {
	case RecipientAdmin:
		msg.To = append([]string(nil), admins...)
	default:
		msg.To = customerAddresses(o.Customer)
	}
	return msg
}

func customerAddresses(c models.Customer) []string {
	var to []string
	if c.Email != "" {
		to = append(to, c.Email)
	}
	if c.Phone != "" {
		to = append(to, c.Phone)
	}
	return to
}

// KindForStatus picks the customer notification for a settled payment.
func KindForStatus(s models.PaymentStatus) (Kind, bool) {
	switch s {
	case models.PaymentPaid:
		return KindPaymentSuccess, true
	case models.PaymentFailed:
		return KindPaymentFailed, true
	}
	return "", false
}
