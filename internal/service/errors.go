package service

import "errors"

var (
	// ErrNilProvider is returned when registering a nil provider.
	ErrNilProvider = errors.New("provider must not be nil")

	// ErrUnknownProviderType is returned for provider types outside the supported set.
	ErrUnknownProviderType = errors.New("unknown provider type")

	// ErrInvalidTransactionID is returned when transaction ID is empty.
	ErrInvalidTransactionID = errors.New("invalid transaction id")

	// ErrInvalidCustomerID is returned when customer ID is empty.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrInvalidPaymentMethod is returned when payment method ID is empty.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidEmail is returned when a customer email is missing.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTransactionNotFound is returned when a transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRefundNotFound is returned when a refund does not exist.
	ErrRefundNotFound = errors.New("refund not found")

	// ErrCustomerNotFound is returned when a customer is not known locally.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrTransactionNotCapturable is returned when capturing anything but an uncaptured authorization.
	ErrTransactionNotCapturable = errors.New("transaction cannot be captured in current state")

	// ErrTransactionNotVoidable is returned when voiding a captured or failed transaction.
	ErrTransactionNotVoidable = errors.New("transaction cannot be voided in current state")

	// ErrTransactionNotRefundable is returned when refunding an uncaptured or failed transaction.
	ErrTransactionNotRefundable = errors.New("transaction cannot be refunded in current state")

	// ErrRefundExceedsCaptured is returned when refunds would exceed the captured amount.
	ErrRefundExceedsCaptured = errors.New("refund exceeds remaining captured amount")

	// ErrIdempotencyKeyReused is returned when a key is replayed with different parameters.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with different parameters")

	// ErrDuplicateWebhook is returned when a webhook event has already been handled.
	ErrDuplicateWebhook = errors.New("webhook event already processed")
)
