package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments/internal/provider"
	"payments/internal/service"
)

// StatusCache caches the provider dashboard.
type StatusCache interface {
	GetProviderStatus(ctx context.Context, dest any) (bool, error)
	SetProviderStatus(ctx context.Context, status any) error
	InvalidateProviderStatus(ctx context.Context) error
}

// ProviderHandler exposes provider status and the operator controls.
type ProviderHandler struct {
	paymentService *service.PaymentService
	cache          StatusCache
}

// NewProviderHandler creates a new ProviderHandler. cache may be nil.
func NewProviderHandler(paymentService *service.PaymentService, cache StatusCache) *ProviderHandler {
	return &ProviderHandler{paymentService: paymentService, cache: cache}
}

// SetProviderRequest is the HTTP request body for changing primary or fallback.
type SetProviderRequest struct {
	Provider string `json:"provider"`
}

// Status handles GET /v1/providers
func (h *ProviderHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	var statuses []service.ProviderStatus
	if h.cache != nil && c.Query("fresh") != "true" {
		if hit, err := h.cache.GetProviderStatus(ctx, &statuses); err == nil && hit {
			respondJSON(c, http.StatusOK, gin.H{"data": statuses, "cached": true})
			return
		}
	}

	statuses, err := h.paymentService.GetProviderMetrics(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.SetProviderStatus(ctx, statuses)
	}

	respondJSON(c, http.StatusOK, gin.H{"data": statuses, "cached": false})
}

// SetPrimary handles PUT /v1/providers/primary
func (h *ProviderHandler) SetPrimary(c *gin.Context) {
	h.setProvider(c, h.paymentService.SetPrimary)
}

// SetFallback handles PUT /v1/providers/fallback
func (h *ProviderHandler) SetFallback(c *gin.Context) {
	h.setProvider(c, h.paymentService.SetFallback)
}

func (h *ProviderHandler) setProvider(c *gin.Context, set func(provider.Type) error) {
	var req SetProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := set(provider.Type(req.Provider)); err != nil {
		respondError(c, err)
		return
	}
	h.invalidate(c.Request.Context())

	respondJSON(c, http.StatusOK, gin.H{
		"primary":  h.paymentService.Primary(),
		"fallback": h.paymentService.Fallback(),
	})
}

// ResetCircuit handles POST /v1/providers/:type/reset
func (h *ProviderHandler) ResetCircuit(c *gin.Context) {
	if err := h.paymentService.ResetCircuit(provider.Type(c.Param("type"))); err != nil {
		respondError(c, err)
		return
	}
	h.invalidate(c.Request.Context())

	c.Status(http.StatusNoContent)
}

func (h *ProviderHandler) invalidate(ctx context.Context) {
	if h.cache != nil {
		_ = h.cache.InvalidateProviderStatus(ctx)
	}
}
