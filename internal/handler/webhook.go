package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments/internal/provider"
	"payments/internal/service"
)

// maxWebhookBody bounds the payload read before signature verification.
const maxWebhookBody = 1 << 20

// WebhookHandler handles inbound provider webhooks.
type WebhookHandler struct {
	webhookService *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// Handle handles POST /v1/webhooks/:provider
//
// The raw body is verified as received; it must not be re-encoded first.
func (h *WebhookHandler) Handle(c *gin.Context) {
	t := provider.Type(c.Param("provider"))

	header, err := h.webhookService.SignatureHeader(t)
	if err != nil {
		respondError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unable to read body"})
		return
	}

	res, err := h.webhookService.Handle(c.Request.Context(), t, payload, c.GetHeader(header))
	if errors.Is(err, service.ErrDuplicateWebhook) {
		respondJSON(c, http.StatusOK, gin.H{"event_id": res.EventID, "duplicate": true})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, res)
}
