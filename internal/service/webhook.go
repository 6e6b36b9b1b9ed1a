package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/provider"
)

// WebhookDeduper remembers which provider events have been handled.
type WebhookDeduper interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// WebhookService verifies inbound provider webhooks and applies the status
// changes they report to recorded transactions.
type WebhookService struct {
	payments     *PaymentService
	transactions *TransactionService
	dedupe       WebhookDeduper
	logger       *zap.Logger
}

// NewWebhookService creates a new WebhookService. dedupe may be nil, in which
// case redelivered events are handled again; status updates are idempotent.
func NewWebhookService(payments *PaymentService, transactions *TransactionService, dedupe WebhookDeduper, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		payments:     payments,
		transactions: transactions,
		dedupe:       dedupe,
		logger:       logger,
	}
}

// SignatureHeader returns the header the given provider signs webhooks with.
func (s *WebhookService) SignatureHeader(t provider.Type) (string, error) {
	p, err := s.payments.Lookup(t)
	if err != nil {
		return "", err
	}
	return p.SignatureHeader(), nil
}

// Handle verifies the payload signature before anything else, then handles
// the event once. A redelivered event returns ErrDuplicateWebhook with the
// result of the skipped delivery.
func (s *WebhookService) Handle(ctx context.Context, t provider.Type, payload []byte, signature string) (*domain.WebhookResult, error) {
	p, err := s.payments.Lookup(t)
	if err != nil {
		return nil, err
	}

	event, err := p.ConstructWebhookEvent(payload, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", zap.String("provider", string(t)), zap.Error(err))
		return nil, err
	}

	log := s.logger.With(
		zap.String("provider", string(t)),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	claimed := false
	if s.dedupe != nil {
		ok, err := s.dedupe.Claim(ctx, string(t), event.ID)
		switch {
		case err != nil:
			log.Warn("webhook dedupe unavailable, handling event anyway", zap.Error(err))
		case !ok:
			log.Info("duplicate webhook skipped")
			return &domain.WebhookResult{EventID: event.ID}, ErrDuplicateWebhook
		default:
			claimed = true
		}
	}
	release := func() {
		if !claimed {
			return
		}
		if err := s.dedupe.Release(context.WithoutCancel(ctx), string(t), event.ID); err != nil {
			log.Error("failed to release webhook claim", zap.Error(err))
		}
	}

	res, err := p.HandleWebhook(ctx, event)
	if err != nil {
		release()
		log.Error("webhook handling failed", zap.Error(err))
		return nil, err
	}

	if res.Update != nil {
		if _, err := s.transactions.ApplyUpdate(ctx, t, res.Update); err != nil {
			switch {
			case errors.Is(err, ErrTransactionNotFound):
				log.Warn("webhook references unknown transaction", zap.String("provider_id", res.Update.ProviderID))
				res.Error = err.Error()
			case errors.Is(err, domain.ErrInvalidTransition):
				log.Warn("webhook status change rejected", zap.Error(err))
				res.Error = err.Error()
			default:
				release()
				log.Error("failed to apply webhook update", zap.Error(err))
				return nil, err
			}
		}
	}

	log.Info("webhook handled", zap.Bool("processed", res.Processed))
	return res, nil
}
