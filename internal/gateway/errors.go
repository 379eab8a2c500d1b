package gateway

import (
	"errors"
	"fmt"

	"CTPayments/internal/models"
)

var (
	ErrAuth             = errors.New("gateway authentication failed")
	ErrUnavailable      = errors.New("gateway unavailable")
	ErrRejected         = errors.New("gateway rejected request")
	ErrConfig           = errors.New("gateway misconfigured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

// Error carries the provider and HTTP status behind one of the sentinel kinds.
type Error struct {
	Kind       error
	Provider   models.PaymentMethod
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, provider models.PaymentMethod, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether the caller may retry the same call later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
