package services

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"CTPayments/internal/gateway"
	"CTPayments/internal/logging"
	"CTPayments/internal/models"
	"CTPayments/internal/notify"
	"CTPayments/internal/reconcile"
	"CTPayments/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (r *recordingNotifier) Dispatch(ctx context.Context, req notify.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recordingNotifier) sent() []notify.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Request(nil), r.reqs...)
}

type stubGateway struct {
	initiation *gateway.Initiation
	err        error
	status     models.PaymentStatus
	got        []gateway.PaymentRequest
}

func (s *stubGateway) Method() models.PaymentMethod { return models.MethodMobileMoney }

func (s *stubGateway) Authenticate(ctx context.Context) (gateway.Credential, error) {
	return gateway.Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *stubGateway) InitiatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.Initiation, error) {
	s.got = append(s.got, req)
	return s.initiation, s.err
}

func (s *stubGateway) QueryStatus(ctx context.Context, reference string) (gateway.StatusReport, error) {
	return gateway.StatusReport{Status: s.status, ProviderStatus: string(s.status)}, nil
}

func (s *stubGateway) ParseWebhook(raw []byte, headers http.Header) (*models.NormalizedEvent, error) {
	return nil, gateway.ErrMalformedPayload
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestService(gw *stubGateway) (*OrderService, *store.Memory, *recordingNotifier) {
	st := store.NewMemory()
	st.Now = func() time.Time { return fixedNow }
	n := &recordingNotifier{}
	registry := gateway.NewRegistry(gw, gateway.Offline{})
	engine := &reconcile.Engine{Store: st, Gateways: registry, Notifier: n, Logger: logging.Discard()}
	return &OrderService{
		Store:    st,
		Gateways: registry,
		Engine:   engine,
		Notifier: n,
		Logger:   logging.Discard(),
		Currency: "UGX",
		Now:      func() time.Time { return fixedNow },
	}, st, n
}

func checkoutRequest(method models.PaymentMethod) CheckoutRequest {
	return CheckoutRequest{
		Customer:        models.Customer{Name: "Amina", Email: "amina@example.com", Phone: "256700000001"},
		DeliveryAddress: "Plot 4, Kampala Road",
		Items: []models.LineItem{
			{Name: "Rolex", Restaurant: "Mama's", Quantity: 2, UnitPrice: decimal.NewFromInt(5000)},
		},
		Subtotal:      decimal.NewFromInt(10000),
		DeliveryFee:   decimal.NewFromInt(2000),
		Total:         decimal.NewFromInt(12000),
		PaymentMethod: method,
	}
}

func TestCreateOrderOffline(t *testing.T) {
	svc, st, n := newTestService(&stubGateway{})

	out, err := svc.CreateOrder(context.Background(), checkoutRequest(models.MethodOffline))
	require.NoError(t, err)
	assert.Equal(t, "CT-20240501-0001", out.Order.OrderNumber)
	assert.True(t, out.AwaitingConfirmation)
	assert.Equal(t, "offline-CT-20240501-0001", out.Order.Reference())

	stored, err := st.GetOrder(context.Background(), out.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, "offline-CT-20240501-0001", stored.Reference())
	assert.Equal(t, "UGX", stored.Currency)

	reqs := n.sent()
	require.Len(t, reqs, 1)
	assert.Equal(t, notify.KindOrderPlaced, reqs[0].Kind)
	assert.Equal(t, notify.RecipientAdmin, reqs[0].Recipient)
}

func TestCreateOrderMobileMoney(t *testing.T) {
	gw := &stubGateway{initiation: &gateway.Initiation{ProviderReference: "ref-1"}}
	svc, _, _ := newTestService(gw)

	req := checkoutRequest(models.MethodMobileMoney)
	req.OrderNumber = "CT-20240501-0042"
	out, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "CT-20240501-0042", out.Order.OrderNumber)
	assert.Equal(t, "ref-1", out.Order.Reference())
	assert.False(t, out.AwaitingConfirmation)

	require.Len(t, gw.got, 1)
	assert.Equal(t, "CT-20240501-0042", gw.got[0].OrderNumber)
	assert.True(t, gw.got[0].Amount.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, "256700000001", gw.got[0].Payer.Phone)
}

func TestCreateOrderInitiationFailureLeavesPendingOrder(t *testing.T) {
	gw := &stubGateway{err: &gateway.Error{Kind: gateway.ErrUnavailable, Provider: models.MethodMobileMoney, StatusCode: 503}}
	svc, st, n := newTestService(gw)

	_, err := svc.CreateOrder(context.Background(), checkoutRequest(models.MethodMobileMoney))
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	stored, err := st.GetOrder(context.Background(), "CT-20240501-0001")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, stored.Reference())
	assert.Contains(t, stored.Notes, "payment initiation failed")
	assert.Empty(t, n.sent())
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
		want   error
	}{
		{"no items", func(r *CheckoutRequest) { r.Items = nil }, ErrNoItems},
		{"bad method", func(r *CheckoutRequest) { r.PaymentMethod = "crypto" }, ErrInvalidMethod},
		{"zero quantity", func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }, ErrInvalidQuantity},
		{"no contact", func(r *CheckoutRequest) { r.Customer.Email, r.Customer.Phone = "", "" }, ErrMissingContact},
		{"total mismatch", func(r *CheckoutRequest) { r.Total = decimal.NewFromInt(11000) }, ErrInvalidTotal},
		{"subtotal differs from items", func(r *CheckoutRequest) {
			r.Subtotal, r.Total = decimal.NewFromInt(9000), decimal.NewFromInt(11000)
		}, ErrInvalidSubtotal},
		{"zero total", func(r *CheckoutRequest) {
			r.Subtotal, r.DeliveryFee, r.Total = decimal.Zero, decimal.Zero, decimal.Zero
		}, ErrInvalidTotal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(&stubGateway{})
			req := checkoutRequest(models.MethodOffline)
			tt.mutate(&req)
			_, err := svc.CreateOrder(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateOrderDisabledProvider(t *testing.T) {
	svc, _, _ := newTestService(&stubGateway{})
	svc.Gateways = gateway.NewRegistry(gateway.Offline{})

	_, err := svc.CreateOrder(context.Background(), checkoutRequest(models.MethodHostedLink))
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestCreateOrderDuplicateNumber(t *testing.T) {
	svc, _, _ := newTestService(&stubGateway{})
	req := checkoutRequest(models.MethodOffline)
	req.OrderNumber = "CT-20240501-0007"

	_, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrDuplicateOrderNumber)
}

func TestAddNote(t *testing.T) {
	svc, st, n := newTestService(&stubGateway{})
	ctx := context.Background()
	out, err := svc.CreateOrder(ctx, checkoutRequest(models.MethodOffline))
	require.NoError(t, err)
	number := out.Order.OrderNumber

	assert.ErrorIs(t, svc.AddNote(ctx, number, "   ", true), ErrEmptyNote)
	assert.ErrorIs(t, svc.AddNote(ctx, "CT-19990101-0001", "hello", false), store.ErrOrderNotFound)

	require.NoError(t, svc.AddNote(ctx, number, "called customer", false))
	require.NoError(t, svc.AddNote(ctx, number, "rider dispatched", true))

	stored, err := st.GetOrder(ctx, number)
	require.NoError(t, err)
	lines := strings.Split(stored.Notes, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2024-05-01T09:30:00Z] called customer", lines[0])
	assert.Equal(t, "[2024-05-01T09:30:00Z] rider dispatched", lines[1])

	reqs := n.sent()
	require.Len(t, reqs, 2)
	assert.Equal(t, notify.KindStatusUpdate, reqs[1].Kind)
	assert.Equal(t, notify.RecipientCustomer, reqs[1].Recipient)
	assert.Equal(t, "rider dispatched", reqs[1].Note)
}

func TestStatusPollsPendingOrders(t *testing.T) {
	gw := &stubGateway{initiation: &gateway.Initiation{ProviderReference: "ref-1"}, status: models.PaymentPending}
	svc, _, n := newTestService(gw)
	ctx := context.Background()

	out, err := svc.CreateOrder(ctx, checkoutRequest(models.MethodMobileMoney))
	require.NoError(t, err)

	order, err := svc.Status(ctx, out.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)

	gw.status = models.PaymentPaid
	order, err = svc.Status(ctx, out.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, order.PaymentStatus)

	reqs := n.sent()
	require.Len(t, reqs, 2)
	assert.Equal(t, notify.KindPaymentSuccess, reqs[1].Kind)

	_, err = svc.Status(ctx, "CT-19990101-0001")
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}
