// Package provider defines the capability every payment processor backend
// exposes and the guard that wraps each upstream call with metrics, tracing,
// a circuit breaker and retries.
package provider

import (
	"context"
	"fmt"

	"payments/internal/domain"
)

// Type identifies a provider backend.
type Type string

const (
	TypeStripe Type = "stripe"
	TypeMock   Type = "mock"
)

// Types is the closed set of provider backends.
var Types = []Type{TypeStripe, TypeMock}

// ParseType validates a provider type name.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if Type(s) == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown provider type %q", s)
}

// Provider is one configured upstream payment processor. Every error returned
// by a Provider is a *providererr.Error.
//
// Implementations: stripe.Provider, mock.Provider.
type Provider interface {
	Name() string
	Type() Type
	SupportedCurrencies() []domain.Currency
	SupportsCurrency(c domain.Currency) bool
	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string

	CreateCustomer(ctx context.Context, params domain.CreateCustomerParams) (*domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, params domain.UpdateCustomerParams) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*domain.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	Charge(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error)
	Authorize(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error)
	Capture(ctx context.Context, params domain.CaptureParams) (*domain.Transaction, error)
	Void(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, params domain.ListTransactionsParams) ([]domain.Transaction, error)

	Refund(ctx context.Context, params domain.RefundParams) (*domain.Refund, error)
	GetRefund(ctx context.Context, refundID string) (*domain.Refund, error)

	// ConstructWebhookEvent verifies the signature over the raw payload.
	ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error)
	HandleWebhook(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error)

	// HealthCheck returns nil when the upstream is reachable.
	HealthCheck(ctx context.Context) error
	Metrics() Snapshot
	// BreakerState exposes the provider's circuit breaker for dashboards.
	BreakerState() string
	// ResetBreaker forces the circuit closed. Operator action.
	ResetBreaker()
}

// SupportsCurrency is a helper for implementations.
func SupportsCurrency(supported []domain.Currency, c domain.Currency) bool {
	for _, s := range supported {
		if s == c {
			return true
		}
	}
	return false
}
