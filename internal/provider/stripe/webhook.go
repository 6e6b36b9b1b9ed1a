package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/providererr"
)

// ConstructWebhookEvent verifies the Stripe-Signature header. The account's
// API version may differ from the SDK's, so version mismatches are ignored.
func (p *Provider) ConstructWebhookEvent(payload []byte, signature string) (*domain.WebhookEvent, error) {
	return provider.Local(context.Background(), p.guard, "construct_webhook_event", func(context.Context) (*domain.WebhookEvent, error) {
		event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, providererr.Wrap(p.name, providererr.CodeWebhookSignature, "webhook signature verification failed", err)
		}

		out := &domain.WebhookEvent{
			ID:        event.ID,
			Type:      string(event.Type),
			Provider:  p.name,
			CreatedAt: time.Unix(event.Created, 0).UTC(),
		}
		if event.Data != nil {
			out.Payload = event.Data.Raw
		}
		return out, nil
	})
}

// HandleWebhook turns PaymentIntent events into transaction updates. Stripe
// owns the state, so nothing is mutated here.
func (p *Provider) HandleWebhook(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	return provider.Local(ctx, p.guard, "handle_webhook", func(ctx context.Context) (*domain.WebhookResult, error) {
		res := &domain.WebhookResult{EventID: event.ID}

		if event.Type == domain.EventChargeRefunded {
			res.Processed = true
			return res, nil
		}
		status, ok := domain.StatusForEvent(event.Type)
		if !ok {
			return res, nil
		}

		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Payload, &pi); err != nil || pi.ID == "" {
			res.Error = "payment intent event carries no payment intent"
			return res, nil
		}

		update := &domain.TransactionUpdate{ProviderID: pi.ID, Status: status}
		if pi.LastPaymentError != nil {
			update.FailureCode = string(pi.LastPaymentError.Code)
			update.FailureMessage = pi.LastPaymentError.Msg
		}
		res.Processed = true
		res.Update = update
		return res, nil
	})
}
