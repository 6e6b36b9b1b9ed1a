package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/service"
)

// TransactionHandler handles HTTP requests for charges, authorizations and refunds.
type TransactionHandler struct {
	transactionService *service.TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{transactionService: transactionService}
}

// ChargeRequest is the HTTP request body for a charge or authorization.
// Amount is in minor units.
type ChargeRequest struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id,omitempty"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Provider        string            `json:"provider,omitempty"`
}

// CaptureRequest is the HTTP request body for a capture. A missing amount
// captures the full authorization.
type CaptureRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

// RefundRequest is the HTTP request body for a refund. A missing amount
// refunds the remaining captured amount.
type RefundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Charge handles POST /v1/charges
func (h *TransactionHandler) Charge(c *gin.Context) {
	req, ok := h.bindCharge(c)
	if !ok {
		return
	}

	tx, err := h.transactionService.Charge(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, tx)
}

// Authorize handles POST /v1/authorizations
func (h *TransactionHandler) Authorize(c *gin.Context) {
	req, ok := h.bindCharge(c)
	if !ok {
		return
	}

	tx, err := h.transactionService.Authorize(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, tx)
}

func (h *TransactionHandler) bindCharge(c *gin.Context) (service.ChargeRequest, bool) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return service.ChargeRequest{}, false
	}

	if req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "customer_id is required"})
		return service.ChargeRequest{}, false
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be positive"})
		return service.ChargeRequest{}, false
	}

	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return service.ChargeRequest{}, false
	}

	userID, groups := caller(c)
	return service.ChargeRequest{
		Amount:          domain.Money{Amount: req.Amount, Currency: currency},
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		Description:     req.Description,
		Metadata:        req.Metadata,
		IdempotencyKey:  c.GetHeader(idempotencyHeader),
		Provider:        provider.Type(req.Provider),
		UserID:          userID,
		Groups:          groups,
	}, true
}

// Get handles GET /v1/transactions/:id
func (h *TransactionHandler) Get(c *gin.Context) {
	tx, err := h.transactionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tx)
}

// List handles GET /v1/transactions?customer_id=&limit=
func (h *TransactionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	txs, err := h.transactionService.List(c.Request.Context(), domain.ListTransactionsParams{
		CustomerID: c.Query("customer_id"),
		Limit:      limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if txs == nil {
		txs = []*domain.Transaction{}
	}
	respondJSON(c, http.StatusOK, gin.H{"data": txs})
}

// Capture handles POST /v1/transactions/:id/capture
func (h *TransactionHandler) Capture(c *gin.Context) {
	var req CaptureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	tx, err := h.transactionService.Capture(c.Request.Context(), service.CaptureRequest{
		TransactionID:  c.Param("id"),
		Amount:         req.Amount,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tx)
}

// Void handles POST /v1/transactions/:id/void
func (h *TransactionHandler) Void(c *gin.Context) {
	tx, err := h.transactionService.Void(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tx)
}

// Refresh handles POST /v1/transactions/:id/refresh
func (h *TransactionHandler) Refresh(c *gin.Context) {
	tx, err := h.transactionService.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, tx)
}

// Refund handles POST /v1/transactions/:id/refunds
func (h *TransactionHandler) Refund(c *gin.Context) {
	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	refund, err := h.transactionService.Refund(c.Request.Context(), service.RefundRequest{
		TransactionID:  c.Param("id"),
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, refund)
}

// ListRefunds handles GET /v1/transactions/:id/refunds
func (h *TransactionHandler) ListRefunds(c *gin.Context) {
	refunds, err := h.transactionService.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if refunds == nil {
		refunds = []*domain.Refund{}
	}
	respondJSON(c, http.StatusOK, gin.H{"data": refunds})
}

// GetRefund handles GET /v1/refunds/:id
func (h *TransactionHandler) GetRefund(c *gin.Context) {
	refund, err := h.transactionService.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, refund)
}
