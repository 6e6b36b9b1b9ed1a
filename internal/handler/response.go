package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"payments/internal/apperror"
	"payments/internal/domain"
	"payments/internal/repository"
	"payments/internal/service"
)

const (
	userIDHeader      = "X-User-ID"
	userGroupsHeader  = "X-User-Groups"
	idempotencyHeader = "Idempotency-Key"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
// The error is attached to the gin context so the logging and APM
// middleware see the full detail that is hidden from the caller.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	if code, ok := mapErrorToHTTPStatus(err); ok {
		c.JSON(code, ErrorResponse{Error: err.Error()})
		return
	}

	ae := apperror.FromProvider(err)
	c.JSON(ae.Status, ErrorResponse{Error: ae.PublicMessage(), Code: ae.Code})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
// Provider and unexpected errors are left to apperror.
func mapErrorToHTTPStatus(err error) (int, bool) {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrRefundNotFound),
		errors.Is(err, service.ErrCustomerNotFound):
		return http.StatusNotFound, true

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidTransactionID),
		errors.Is(err, service.ErrInvalidCustomerID),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnknownProviderType),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrMissingCustomer):
		return http.StatusBadRequest, true

	// Conflict errors
	case errors.Is(err, service.ErrTransactionNotCapturable),
		errors.Is(err, service.ErrTransactionNotVoidable),
		errors.Is(err, service.ErrTransactionNotRefundable),
		errors.Is(err, service.ErrRefundExceedsCaptured),
		errors.Is(err, service.ErrIdempotencyKeyReused),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, true
	}

	return 0, false
}

// caller reads the identity set by the upstream auth layer.
func caller(c *gin.Context) (userID string, groups []string) {
	userID = c.GetHeader(userIDHeader)
	for _, g := range strings.Split(c.GetHeader(userGroupsHeader), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return userID, groups
}
