package mock

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"time"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/providererr"
)

type webhookEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type paymentEventData struct {
	TransactionID  string `json:"transaction_id"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

// ConstructWebhookEvent checks the HMAC before looking at the payload.
func (p *Provider) ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error) {
	return provider.Local(context.Background(), p.guard, "construct_webhook_event", func(context.Context) (*domain.WebhookEvent, error) {
		sig, err := hex.DecodeString(signature)
		if err != nil || !hmac.Equal(sig, p.signature(payload)) {
			return nil, providererr.New(p.name, providererr.CodeWebhookSignature, "webhook signature verification failed")
		}

		var env webhookEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, providererr.Wrap(p.name, providererr.CodeInvalidRequest, "malformed webhook payload", err)
		}
		if env.ID == "" || env.Type == "" {
			return nil, providererr.New(p.name, providererr.CodeInvalidRequest, "webhook payload is missing id or type")
		}
		return &domain.WebhookEvent{
			ID:        env.ID,
			Type:      env.Type,
			Provider:  p.name,
			Payload:   env.Data,
			CreatedAt: time.Unix(env.Created, 0).UTC(),
		}, nil
	})
}

func (p *Provider) signature(payload []byte) []byte {
	sig, _ := hex.DecodeString(p.Sign(payload))
	return sig
}

// HandleWebhook applies payment status events to the in-memory store.
// Unknown event types are acknowledged without processing.
func (p *Provider) HandleWebhook(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	return provider.Local(ctx, p.guard, "handle_webhook", func(ctx context.Context) (*domain.WebhookResult, error) {
		res := &domain.WebhookResult{EventID: event.ID}
		status, ok := domain.StatusForEvent(event.Type)
		if !ok {
			return res, nil
		}

		var data paymentEventData
		if err := json.Unmarshal(event.Payload, &data); err != nil || data.TransactionID == "" {
			res.Error = "payment event carries no transaction id"
			return res, nil
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		tx, ok := p.transactions[data.TransactionID]
		if !ok {
			res.Error = "unknown transaction " + data.TransactionID
			return res, nil
		}
		if !domain.CanTransition(tx.Status, status) {
			res.Error = "ignored transition from " + string(tx.Status) + " to " + string(status)
			return res, nil
		}
		tx.Status = status
		tx.FailureCode = data.FailureCode
		tx.FailureMessage = data.FailureMessage

		res.Processed = true
		res.Update = &domain.TransactionUpdate{
			ProviderID:     tx.ProviderID,
			Status:         status,
			FailureCode:    data.FailureCode,
			FailureMessage: data.FailureMessage,
		}
		return res, nil
	})
}
