// Package apperror is the domain error taxonomy used above the provider
// layer. Each error carries an HTTP status class and whether it is
// operational (expected, safe to show) or a system fault that must be
// alerted on and hidden from end users.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"payments/internal/providererr"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthentication  Kind = "authentication"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimit       Kind = "rate_limit"
	KindPayment         Kind = "payment"
	KindExternalService Kind = "external_service"
	KindDatabase        Kind = "database"
	KindInternal        Kind = "internal"
)

// GenericMessage is what clients see for non-operational failures.
const GenericMessage = "internal server error"

// Error is an application-level failure.
type Error struct {
	Kind        Kind
	Message     string
	Code        string
	Status      int
	Operational bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage returns the message that may be shown to the caller.
func (e *Error) PublicMessage() string {
	if !e.Operational {
		return GenericMessage
	}
	return e.Message
}

func newError(kind Kind, status int, operational bool, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Status: status, Operational: operational, Err: cause}
}

func Validation(msg string) *Error {
	return newError(KindValidation, http.StatusBadRequest, true, msg, nil)
}

func Authentication(msg string) *Error {
	return newError(KindAuthentication, http.StatusUnauthorized, true, msg, nil)
}

func Authorization(msg string) *Error {
	return newError(KindAuthorization, http.StatusForbidden, true, msg, nil)
}

func NotFound(msg string) *Error {
	return newError(KindNotFound, http.StatusNotFound, true, msg, nil)
}

func Conflict(msg string) *Error {
	return newError(KindConflict, http.StatusConflict, true, msg, nil)
}

func RateLimit(msg string) *Error {
	return newError(KindRateLimit, http.StatusTooManyRequests, true, msg, nil)
}

func Payment(msg string, cause error) *Error {
	return newError(KindPayment, http.StatusPaymentRequired, true, msg, cause)
}

func ExternalService(msg string, cause error) *Error {
	return newError(KindExternalService, http.StatusBadGateway, true, msg, cause)
}

// Database errors are never operational.
func Database(cause error) *Error {
	return newError(KindDatabase, http.StatusInternalServerError, false, "database error", cause)
}

// Internal wraps an unexpected fault.
func Internal(cause error) *Error {
	return newError(KindInternal, http.StatusInternalServerError, false, "internal error", cause)
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// FromProvider maps a provider error into the domain taxonomy. Errors that
// are neither provider nor application errors become non-operational
// internal errors.
func FromProvider(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	pe, ok := providererr.As(err)
	if !ok {
		return Internal(err)
	}

	var ae *Error
	switch pe.Code {
	case providererr.CodeCardDeclined, providererr.CodeInsufficientFunds,
		providererr.CodeExpiredCard, providererr.CodeInvalidPaymentMethod:
		ae = Payment(pe.Message, err)
	case providererr.CodeCustomerNotFound, providererr.CodeNotFound:
		ae = newError(KindNotFound, http.StatusNotFound, true, pe.Message, err)
	case providererr.CodeInvalidRequest, providererr.CodeUnsupportedCurrency:
		ae = newError(KindValidation, http.StatusBadRequest, true, pe.Message, err)
	case providererr.CodeInvalidState, providererr.CodeIdempotencyConflict:
		ae = newError(KindConflict, http.StatusConflict, true, pe.Message, err)
	case providererr.CodeWebhookSignature:
		ae = newError(KindAuthentication, http.StatusUnauthorized, true, pe.Message, err)
	case providererr.CodeRateLimited:
		ae = newError(KindRateLimit, http.StatusTooManyRequests, true, pe.Message, err)
	case providererr.CodeCircuitOpen, providererr.CodeNoHealthyProvider,
		providererr.CodeNoProviderAvailable, providererr.CodeServiceUnavailable:
		ae = newError(KindExternalService, http.StatusServiceUnavailable, true, pe.Message, err)
	case providererr.CodeNetwork, providererr.CodeTimeout:
		ae = ExternalService(pe.Message, err)
	default:
		// Configuration, authentication against the upstream and unknown
		// failures are system faults.
		ae = newError(KindExternalService, http.StatusBadGateway, false, pe.Message, err)
	}
	ae.Code = string(pe.Code)
	return ae
}
