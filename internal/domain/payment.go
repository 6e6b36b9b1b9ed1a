package domain

import "time"

// TransactionStatus represents the current status of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSucceeded  TransactionStatus = "succeeded"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// transitions lists the allowed status changes. A succeeded transaction can
// only move to cancelled through a void before capture, which callers check
// with CanVoid.
var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusProcessing: {
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusSucceeded: {
		TransactionStatusCancelled,
	},
}

// CanTransition reports whether a transaction may move from one status to another.
// Staying in the same status is always allowed so replayed updates are harmless.
func CanTransition(from, to TransactionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected from the status.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// ChargeParams describes a charge request. It is treated as immutable once built:
// the same value is used to perform the charge and to derive its idempotency key.
type ChargeParams struct {
	Amount          Money
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
	Capture         bool
	Description     string
	Metadata        map[string]string
}

// Validate checks the fields every provider relies on.
func (p ChargeParams) Validate() error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if p.CustomerID == "" {
		return ErrMissingCustomer
	}
	return nil
}

// CaptureParams settles an authorized transaction. A nil Amount captures the full authorization.
type CaptureParams struct {
	TransactionID  string
	Amount         *int64
	IdempotencyKey string
}

// Transaction is the outcome of a charge or authorization.
type Transaction struct {
	ID              string            `json:"id"`
	ProviderID      string            `json:"provider_id"`
	Provider        string            `json:"provider"`
	Amount          Money             `json:"amount"`
	CapturedAmount  int64             `json:"captured_amount"`
	Status          TransactionStatus `json:"status"`
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CapturedAt      *time.Time        `json:"captured_at,omitempty"`
	FailureCode     string            `json:"failure_code,omitempty"`
	FailureMessage  string            `json:"failure_message,omitempty"`
}

// Captured reports whether funds have been settled.
func (t *Transaction) Captured() bool {
	return t.CapturedAt != nil
}

// CanVoid reports whether the transaction is an uncaptured authorization.
func (t *Transaction) CanVoid() bool {
	if t.Captured() {
		return false
	}
	return t.Status == TransactionStatusPending ||
		t.Status == TransactionStatusProcessing ||
		t.Status == TransactionStatusSucceeded
}

// Refundable reports whether a refund can be issued against the transaction.
func (t *Transaction) Refundable() bool {
	return t.Status == TransactionStatusSucceeded && t.Captured()
}

// ListTransactionsParams filters a transaction listing.
type ListTransactionsParams struct {
	CustomerID string
	Limit      int
}

// RefundStatus represents the current status of a refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundParams describes a refund. A nil Amount refunds the remaining captured amount.
type RefundParams struct {
	TransactionID  string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// Refund is a full or partial return of a succeeded transaction's funds.
type Refund struct {
	ID            string       `json:"id"`
	ProviderID    string       `json:"provider_id"`
	TransactionID string       `json:"transaction_id"`
	Provider      string       `json:"provider"`
	Amount        Money        `json:"amount"`
	Status        RefundStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
