package domain

import "time"

// Customer is a provider-scoped customer record. Provider names the backend
// that owns the id.
type Customer struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Email     string            `json:"email"`
	Name      string            `json:"name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateCustomerParams holds the fields for creating a customer.
type CreateCustomerParams struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

// UpdateCustomerParams holds optional customer fields. Nil fields are left unchanged.
type UpdateCustomerParams struct {
	Email    *string
	Name     *string
	Metadata map[string]string
}

// PaymentMethodType is the kind of instrument behind a payment method.
type PaymentMethodType string

const (
	PaymentMethodCard        PaymentMethodType = "card"
	PaymentMethodBankAccount PaymentMethodType = "bank_account"
	PaymentMethodPayPal      PaymentMethodType = "paypal"
)

// CardDetails holds the display fields of a card.
type CardDetails struct {
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// PaymentMethod is an instrument attached to exactly one customer.
type PaymentMethod struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Type       PaymentMethodType `json:"type"`
	Card       *CardDetails      `json:"card,omitempty"`
	IsDefault  bool              `json:"is_default"`
}
