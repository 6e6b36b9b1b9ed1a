package domain

import (
	"encoding/json"
	"time"
)

// WebhookEvent is an inbound event whose signature has been verified.
type WebhookEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Provider  string          `json:"provider"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransactionUpdate is a status change reported by a provider event.
type TransactionUpdate struct {
	ProviderID     string
	Status         TransactionStatus
	FailureCode    string
	FailureMessage string
}

// WebhookResult records the outcome of handling a webhook event.
type WebhookResult struct {
	EventID   string             `json:"event_id"`
	Processed bool               `json:"processed"`
	Error     string             `json:"error,omitempty"`
	Update    *TransactionUpdate `json:"-"`
}

// Payment event types shared by every provider.
const (
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventPaymentCanceled   = "payment_intent.canceled"
	EventPaymentProcessing = "payment_intent.processing"
	EventChargeRefunded    = "charge.refunded"
)

var eventStatuses = map[string]TransactionStatus{
	EventPaymentSucceeded:  TransactionStatusSucceeded,
	EventPaymentFailed:     TransactionStatusFailed,
	EventPaymentCanceled:   TransactionStatusCancelled,
	EventPaymentProcessing: TransactionStatusProcessing,
}

// StatusForEvent returns the transaction status a payment event reports.
func StatusForEvent(eventType string) (TransactionStatus, bool) {
	s, ok := eventStatuses[eventType]
	return s, ok
}
