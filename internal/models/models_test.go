package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentStatus(t *testing.T) {
	s, err := ParsePaymentStatus(" PAID ")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, s)

	_, err = ParsePaymentStatus("settled")
	assert.Error(t, err)
}

func TestStatusClasses(t *testing.T) {
	assert.False(t, PaymentPending.IsTerminal())
	assert.True(t, PaymentPaid.IsTerminal())
	assert.True(t, PaymentRefunded.IsTerminal())
	assert.True(t, PaymentFailed.IsCanonical())
	assert.False(t, PaymentRefunded.IsCanonical())
}

func TestPaymentMethodValid(t *testing.T) {
	assert.True(t, MethodMobileMoney.Valid())
	assert.True(t, MethodOffline.Valid())
	assert.False(t, PaymentMethod("card").Valid())
}

func TestLineTotal(t *testing.T) {
	item := LineItem{Quantity: 3, UnitPrice: decimal.RequireFromString("2500.50")}
	assert.Equal(t, "7501.5", item.LineTotal().String())
}

func TestOrderCloneIsDeep(t *testing.T) {
	ref := "ref-1"
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	o := &Order{
		OrderNumber:      "CT-20240501-0001",
		Items:            []LineItem{{Name: "Rolex"}},
		PaymentReference: &ref,
		LastReminderAt:   &at,
	}

	c := o.Clone()
	c.Items[0].Name = "changed"
	*c.PaymentReference = "ref-2"
	*c.LastReminderAt = at.Add(time.Hour)

	assert.Equal(t, "Rolex", o.Items[0].Name)
	assert.Equal(t, "ref-1", o.Reference())
	assert.True(t, o.LastReminderAt.Equal(at))
	assert.Equal(t, "", (&Order{}).Reference())
}
