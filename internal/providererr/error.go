// Package providererr defines the canonical error returned by every payment
// provider operation. Upstream SDK errors are translated into it at the
// provider boundary and never cross it in their original form.
package providererr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error class.
type Code string

const (
	// Transient upstream failures.
	CodeNetwork             Code = "network_error"
	CodeTimeout             Code = "timeout"
	CodeRateLimited         Code = "rate_limit"
	CodeIdempotencyConflict Code = "idempotency_conflict"
	CodeServiceUnavailable  Code = "service_unavailable"

	// Terminal upstream failures.
	CodeCardDeclined         Code = "card_declined"
	CodeInsufficientFunds    Code = "insufficient_funds"
	CodeExpiredCard          Code = "expired_card"
	CodeInvalidPaymentMethod Code = "invalid_payment_method"
	CodeCustomerNotFound     Code = "customer_not_found"
	CodeNotFound             Code = "resource_not_found"
	CodeInvalidRequest       Code = "invalid_request"
	CodeUnsupportedCurrency  Code = "unsupported_currency"
	CodeInvalidState         Code = "invalid_state_transition"
	CodeAuthentication       Code = "authentication_failed"
	CodeWebhookSignature     Code = "webhook_signature_invalid"

	// Raised locally.
	CodeConfiguration       Code = "configuration_error"
	CodeCircuitOpen         Code = "circuit_breaker_open"
	CodeNoProviderAvailable Code = "no_provider_available"
	CodeNoHealthyProvider   Code = "no_healthy_providers"
	CodeUnknown             Code = "unknown_error"
)

var retriableCodes = map[Code]bool{
	CodeNetwork:             true,
	CodeTimeout:             true,
	CodeRateLimited:         true,
	CodeIdempotencyConflict: true,
	CodeServiceUnavailable:  true,
	CodeCircuitOpen:         true,
}

// DefaultRetriable reports whether a code is transient by default.
func DefaultRetriable(code Code) bool {
	return retriableCodes[code]
}

// Error is a failure reported by, or on behalf of, a payment provider.
type Error struct {
	Message   string
	Code      Code
	Provider  string
	Retriable bool
	Err       error
}

// New builds an Error whose retriable flag follows the code's default.
func New(provider string, code Code, message string) *Error {
	return &Error{
		Message:   message,
		Code:      code,
		Provider:  provider,
		Retriable: DefaultRetriable(code),
	}
}

// Newf is New with a formatted message.
func Newf(provider string, code Code, format string, args ...any) *Error {
	return New(provider, code, fmt.Sprintf(format, args...))
}

// Wrap builds an Error that keeps cause available to errors.Unwrap.
func Wrap(provider string, code Code, message string, cause error) *Error {
	e := New(provider, code, message)
	e.Err = cause
	return e
}

// CircuitOpen is the synthetic error a breaker returns while it sheds load.
func CircuitOpen(name string) *Error {
	return New(name, CodeCircuitOpen, "circuit breaker is open for "+name)
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so callers can compare against sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Provider == "" || t.Provider == e.Provider)
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the code of a provider error, or CodeUnknown for anything else.
func CodeOf(err error) Code {
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return CodeUnknown
}

// IsRetriable reports whether err is a provider error flagged as retriable.
func IsRetriable(err error) bool {
	pe, ok := As(err)
	return ok && pe.Retriable
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	pe, ok := As(err)
	return ok && pe.Code == code
}

// IsClientError reports errors caused by the request rather than the
// upstream's health: declines, validation and lookups of missing objects.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeCardDeclined, CodeInsufficientFunds, CodeExpiredCard,
		CodeInvalidPaymentMethod, CodeCustomerNotFound, CodeNotFound,
		CodeInvalidRequest, CodeUnsupportedCurrency, CodeInvalidState,
		CodeWebhookSignature:
		return true
	}
	return false
}
