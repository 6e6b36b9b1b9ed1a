package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/service"
)

// CustomerHandler handles HTTP requests for customers and payment methods.
type CustomerHandler struct {
	customerService *service.CustomerService
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(customerService *service.CustomerService) *CustomerHandler {
	return &CustomerHandler{customerService: customerService}
}

// CreateCustomerRequest is the HTTP request body for creating a customer.
type CreateCustomerRequest struct {
	Email    string            `json:"email"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Provider string            `json:"provider,omitempty"`
}

// UpdateCustomerRequest is the HTTP request body for updating a customer.
type UpdateCustomerRequest struct {
	Email    *string           `json:"email,omitempty"`
	Name     *string           `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AttachPaymentMethodRequest is the HTTP request body for attaching a payment method.
type AttachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// Create handles POST /v1/customers
func (h *CustomerHandler) Create(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID, groups := caller(c)
	customer, err := h.customerService.Create(c.Request.Context(), service.CreateCustomerRequest{
		Email:          req.Email,
		Name:           req.Name,
		Metadata:       req.Metadata,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
		Provider:       provider.Type(req.Provider),
		UserID:         userID,
		Groups:         groups,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, customer)
}

// Get handles GET /v1/customers/:id
func (h *CustomerHandler) Get(c *gin.Context) {
	customer, err := h.customerService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, customer)
}

// Update handles PATCH /v1/customers/:id
func (h *CustomerHandler) Update(c *gin.Context) {
	var req UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	customer, err := h.customerService.Update(c.Request.Context(), c.Param("id"), domain.UpdateCustomerParams{
		Email:    req.Email,
		Name:     req.Name,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, customer)
}

// Delete handles DELETE /v1/customers/:id
func (h *CustomerHandler) Delete(c *gin.Context) {
	if err := h.customerService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// AttachPaymentMethod handles POST /v1/customers/:id/payment-methods
func (h *CustomerHandler) AttachPaymentMethod(c *gin.Context) {
	var req AttachPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	pm, err := h.customerService.AttachPaymentMethod(c.Request.Context(), c.Param("id"), req.PaymentMethodID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, pm)
}

// ListPaymentMethods handles GET /v1/customers/:id/payment-methods
func (h *CustomerHandler) ListPaymentMethods(c *gin.Context) {
	methods, err := h.customerService.ListPaymentMethods(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"data": methods})
}

// DetachPaymentMethod handles DELETE /v1/customers/:id/payment-methods/:pm
func (h *CustomerHandler) DetachPaymentMethod(c *gin.Context) {
	if err := h.customerService.DetachPaymentMethod(c.Request.Context(), c.Param("id"), c.Param("pm")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetDefaultPaymentMethod handles POST /v1/customers/:id/payment-methods/:pm/default
func (h *CustomerHandler) SetDefaultPaymentMethod(c *gin.Context) {
	if err := h.customerService.SetDefaultPaymentMethod(c.Request.Context(), c.Param("id"), c.Param("pm")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
