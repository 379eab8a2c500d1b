package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CTPayments/internal/logging"
	"CTPayments/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMomo struct {
	tokenCalls   atomic.Int32
	requestCalls atomic.Int32
	tokenDelay   time.Duration
	// requestStatus returns the HTTP status for the n-th request-to-pay call (1-based).
	requestStatus func(n int32) int
	status        string
}

func (f *fakeMomo) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collection/token/", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Basic "))
		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "access_token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/collection/v1_0/requesttopay", func(w http.ResponseWriter, r *http.Request) {
		n := f.requestCalls.Add(1)
		assert.NotEmpty(t, r.Header.Get("X-Reference-Id"))
		status := http.StatusAccepted
		if f.requestStatus != nil {
			status = f.requestStatus(n)
		}
		w.WriteHeader(status)
	})
	mux.HandleFunc("/collection/v1_0/requesttopay/", func(w http.ResponseWriter, r *http.Request) {
		f.requestCalls.Add(1)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		_ = json.NewEncoder(w).Encode(map[string]any{"status": f.status, "externalId": "CT-1"})
	})
	return mux
}

func newTestMobileMoney(baseURL, secret string) *MobileMoney {
	return NewMobileMoney(&MobileMoneyConfig{
		Enabled:         true,
		BaseURL:         baseURL,
		APIUser:         "user",
		APIKey:          "key",
		SubscriptionKey: "sub-key",
		CallbackSecret:  secret,
		Timeout:         2 * time.Second,
	}, logging.Discard())
}

func momoRequest() PaymentRequest {
	return PaymentRequest{
		OrderNumber: "CT-20240501-0001",
		Amount:      decimal.NewFromInt(25000),
		Currency:    "UGX",
		Payer:       Payer{Name: "Amina", Phone: "+256 700 000 001"},
	}
}

func TestMobileMoneyInitiatePayment(t *testing.T) {
	fake := &fakeMomo{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m := newTestMobileMoney(srv.URL, "")
	started, err := m.InitiatePayment(context.Background(), momoRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, started.ProviderReference)
	assert.Empty(t, started.CheckoutURL)
	assert.EqualValues(t, 1, fake.tokenCalls.Load())
	assert.EqualValues(t, 1, fake.requestCalls.Load())

	_, err = m.InitiatePayment(context.Background(), momoRequest())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.tokenCalls.Load(), "cached token reused")
}

func TestMobileMoneyRetriesOnceAfterUnauthorized(t *testing.T) {
	fake := &fakeMomo{requestStatus: func(n int32) int {
		if n == 1 {
			return http.StatusUnauthorized
		}
		return http.StatusAccepted
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m := newTestMobileMoney(srv.URL, "")
	_, err := m.InitiatePayment(context.Background(), momoRequest())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.tokenCalls.Load())
	assert.EqualValues(t, 2, fake.requestCalls.Load())
}

func TestMobileMoneyUnauthorizedTwiceIsAuthError(t *testing.T) {
	fake := &fakeMomo{requestStatus: func(int32) int { return http.StatusUnauthorized }}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	m := newTestMobileMoney(srv.URL, "")
	_, err := m.InitiatePayment(context.Background(), momoRequest())
	assert.ErrorIs(t, err, ErrAuth)
	assert.EqualValues(t, 2, fake.requestCalls.Load())
}

func TestMobileMoneyErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrRejected},
		{"conflict", http.StatusConflict, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeMomo{requestStatus: func(int32) int { return tt.status }}
			srv := httptest.NewServer(fake.handler(t))
			defer srv.Close()

			_, err := newTestMobileMoney(srv.URL, "").InitiatePayment(context.Background(), momoRequest())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMobileMoneyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestMobileMoney(url, "").InitiatePayment(context.Background(), momoRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestMobileMoneyRejectsBeforeCalling(t *testing.T) {
	fake := &fakeMomo{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	m := newTestMobileMoney(srv.URL, "")

	req := momoRequest()
	req.Payer.Phone = ""
	_, err := m.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)

	req = momoRequest()
	req.Amount = decimal.Zero
	_, err = m.InitiatePayment(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)

	assert.Zero(t, fake.tokenCalls.Load())
	assert.Zero(t, fake.requestCalls.Load())
}

func TestMobileMoneyMissingCredentials(t *testing.T) {
	m := NewMobileMoney(&MobileMoneyConfig{BaseURL: "http://127.0.0.1:1"}, logging.Discard())

	_, err := m.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuth)

	_, err = m.InitiatePayment(context.Background(), momoRequest())
	assert.ErrorIs(t, err, ErrConfig)
}

func TestMobileMoneyConcurrentCallsShareOneTokenRefresh(t *testing.T) {
	fake := &fakeMomo{tokenDelay: 100 * time.Millisecond, status: "PENDING"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	m := newTestMobileMoney(srv.URL, "")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.QueryStatus(context.Background(), "ref-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, fake.tokenCalls.Load())
	assert.EqualValues(t, 10, fake.requestCalls.Load())
}

func TestMobileMoneyQueryStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want models.PaymentStatus
	}{
		{"SUCCESSFUL", models.PaymentPaid},
		{"FAILED", models.PaymentFailed},
		{"PENDING", models.PaymentPending},
		{"SOMETHING_NEW", models.PaymentPending},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			fake := &fakeMomo{status: tt.raw}
			srv := httptest.NewServer(fake.handler(t))
			defer srv.Close()

			got, err := newTestMobileMoney(srv.URL, "").QueryStatus(context.Background(), "ref-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.raw, got.ProviderStatus)
		})
	}
}

func TestMobileMoneyParseWebhook(t *testing.T) {
	body := []byte(`{"externalId":"CT-20240501-0001","referenceId":"ref-1","status":"SUCCESSFUL","amount":25000,"currency":"UGX"}`)

	t.Run("unsigned without secret", func(t *testing.T) {
		ev, err := newTestMobileMoney("", "").ParseWebhook(body, http.Header{})
		require.NoError(t, err)
		assert.Equal(t, models.MethodMobileMoney, ev.Provider)
		assert.Equal(t, "CT-20240501-0001", ev.OrderNumber)
		assert.Equal(t, "ref-1", ev.ProviderReference)
		assert.Equal(t, models.PaymentPaid, ev.Status)
		assert.Equal(t, "SUCCESSFUL", ev.ProviderStatus)
		require.True(t, ev.Amount.Valid)
		assert.True(t, ev.Amount.Decimal.Equal(decimal.NewFromInt(25000)))
	})

	t.Run("signed with secret", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Callback-Signature", Sign(sha256.New, "cb-secret", body))
		ev, err := newTestMobileMoney("", "cb-secret").ParseWebhook(body, h)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPaid, ev.Status)
	})

	t.Run("missing signature with secret", func(t *testing.T) {
		_, err := newTestMobileMoney("", "cb-secret").ParseWebhook(body, http.Header{})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Callback-Signature", Sign(sha256.New, "cb-secret", body))
		tampered := []byte(strings.Replace(string(body), "25000", "1", 1))
		_, err := newTestMobileMoney("", "cb-secret").ParseWebhook(tampered, h)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		m := newTestMobileMoney("", "")
		for _, raw := range []string{
			`not json`,
			`{"externalId":"CT-1"}`,
			`{"status":"SUCCESSFUL"}`,
			`{"externalId":"CT-1","status":"SUCCESSFUL","amount":"abc"}`,
		} {
			_, err := m.ParseWebhook([]byte(raw), http.Header{})
			assert.ErrorIs(t, err, ErrMalformedPayload, raw)
		}
	})

	t.Run("unmapped status is pending", func(t *testing.T) {
		ev, err := newTestMobileMoney("", "").ParseWebhook([]byte(`{"externalId":"CT-1","status":"REVERSED","amount":"10.50"}`), http.Header{})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, ev.Status)
		assert.Equal(t, "REVERSED", ev.ProviderStatus)
		assert.Equal(t, "10.5", ev.Amount.Decimal.String())
	})
}
