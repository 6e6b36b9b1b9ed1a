package stripe

import (
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/stripe/stripe-go/v79"

	"payments/internal/providererr"
)

// mapError translates Stripe SDK and transport errors. Anything it does not
// recognize is left to the guard, which reports unknown_error.
func (p *Provider) mapError(err error) *providererr.Error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = string(se.Code)
		}
		return providererr.Wrap(p.name, classify(se), msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return providererr.Wrap(p.name, providererr.CodeTimeout, "stripe request timed out", err)
		}
		return providererr.Wrap(p.name, providererr.CodeNetwork, "stripe request failed", err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return providererr.Wrap(p.name, providererr.CodeNetwork, "stripe connection failed", err)
	}
	return nil
}

func classify(se *stripe.Error) providererr.Code {
	switch se.Code {
	case stripe.ErrorCodeCardDeclined:
		if se.DeclineCode == stripe.DeclineCodeInsufficientFunds {
			return providererr.CodeInsufficientFunds
		}
		return providererr.CodeCardDeclined
	case stripe.ErrorCodeExpiredCard:
		return providererr.CodeExpiredCard
	case stripe.ErrorCodeBalanceInsufficient:
		return providererr.CodeInsufficientFunds
	case stripe.ErrorCodeIncorrectCVC, stripe.ErrorCodeIncorrectNumber:
		return providererr.CodeInvalidPaymentMethod
	case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout:
		return providererr.CodeRateLimited
	case stripe.ErrorCodeIdempotencyKeyInUse:
		return providererr.CodeIdempotencyConflict
	case stripe.ErrorCodePaymentIntentUnexpectedState:
		return providererr.CodeInvalidState
	case stripe.ErrorCodeAmountTooSmall, stripe.ErrorCodeAmountTooLarge:
		return providererr.CodeInvalidRequest
	case stripe.ErrorCodeResourceMissing:
		if se.Param == "customer" {
			return providererr.CodeCustomerNotFound
		}
		if se.Param == "payment_method" {
			return providererr.CodeInvalidPaymentMethod
		}
		return providererr.CodeNotFound
	}

	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return providererr.CodeAuthentication
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return providererr.CodeRateLimited
	case se.HTTPStatusCode >= http.StatusInternalServerError:
		return providererr.CodeServiceUnavailable
	}

	switch se.Type {
	case stripe.ErrorTypeCard:
		return providererr.CodeCardDeclined
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
		// An idempotency error means the key was reused with different
		// parameters; retrying cannot help.
		return providererr.CodeInvalidRequest
	case stripe.ErrorTypeAPI:
		return providererr.CodeServiceUnavailable
	}
	return providererr.CodeUnknown
}
