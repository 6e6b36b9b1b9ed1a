package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/events"
	"payments/internal/idempotency"
	"payments/internal/provider"
	"payments/internal/repository"
)

// RefundRequest contains the parameters for a refund. A nil Amount refunds
// whatever has not been refunded yet.
type RefundRequest struct {
	TransactionID  string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// Refund returns all or part of a captured transaction through the provider
// that took the payment.
func (s *TransactionService) Refund(ctx context.Context, req RefundRequest) (*domain.Refund, error) {
	tx, err := s.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !tx.Refundable() {
		return nil, ErrTransactionNotRefundable
	}

	remaining, recorded, err := s.remaining(ctx, tx)
	if err != nil {
		return nil, err
	}
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > remaining {
		return nil, ErrRefundExceedsCaptured
	}

	// Two partial refunds of the same amount are different requests: the
	// refund state they start from tells them apart, while a concurrent
	// duplicate of either derives the same key.
	key := idempotency.Resolve(req.IdempotencyKey, "refund", tx.ID,
		strconv.FormatInt(amount, 10),
		strconv.FormatInt(remaining, 10),
		strconv.Itoa(recorded),
	)

	refund, err := ExecuteOn(ctx, s.payments, provider.Type(tx.Provider), "refund",
		func(ctx context.Context, p provider.Provider) (*domain.Refund, error) {
			return p.Refund(ctx, domain.RefundParams{
				TransactionID:  tx.ProviderID,
				Amount:         &amount,
				Reason:         req.Reason,
				IdempotencyKey: key,
			})
		}).Get()
	if err != nil {
		return nil, err
	}

	// A replayed key hands back a refund that is already on record.
	if existing, ok, err := s.recordedRefund(ctx, tx.Provider, refund.ProviderID); err != nil || ok {
		return existing, err
	}

	refund.ID = uuid.New().String()
	refund.TransactionID = tx.ID
	refund.Provider = tx.Provider
	if err := s.refundRepo.Create(ctx, refund); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			if existing, ok, lookupErr := s.recordedRefund(ctx, tx.Provider, refund.ProviderID); lookupErr == nil && ok {
				return existing, nil
			}
		}
		s.logger.Error("refund succeeded upstream but was not recorded",
			zap.String("transaction_id", tx.ID),
			zap.String("provider_id", refund.ProviderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record refund: %w", err)
	}

	s.logger.Info("refund created",
		zap.String("refund_id", refund.ID),
		zap.String("transaction_id", tx.ID),
		zap.Stringer("amount", refund.Amount),
		zap.String("status", string(refund.Status)),
	)
	s.publish(ctx, events.NewRefundEvent(events.TypeRefundCreated, eventSource, refund))
	return refund, nil
}

// remaining is the captured amount not yet covered by pending or succeeded
// refunds, along with how many refunds of any status are on record.
func (s *TransactionService) remaining(ctx context.Context, tx *domain.Transaction) (int64, int, error) {
	refunds, err := s.refundRepo.ListByTransaction(ctx, tx.ID)
	if err != nil {
		return 0, 0, err
	}
	remaining := tx.CapturedAmount
	for _, r := range refunds {
		if r.Status != domain.RefundStatusFailed {
			remaining -= r.Amount.Amount
		}
	}
	return remaining, len(refunds), nil
}

func (s *TransactionService) recordedRefund(ctx context.Context, providerName, providerID string) (*domain.Refund, bool, error) {
	existing, err := s.refundRepo.GetByProviderID(ctx, providerName, providerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	s.logger.Info("refund already recorded",
		zap.String("refund_id", existing.ID),
		zap.String("provider_id", providerID),
	)
	return existing, true, nil
}

// GetRefund returns a refund, refreshing it from the provider while it is pending.
func (s *TransactionService) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	refund, err := s.refundRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	if refund.Status != domain.RefundStatusPending {
		return refund, nil
	}

	upstream, err := ExecuteOn(ctx, s.payments, provider.Type(refund.Provider), "get_refund",
		func(ctx context.Context, p provider.Provider) (*domain.Refund, error) {
			return p.GetRefund(ctx, refund.ProviderID)
		}).Get()
	if err != nil {
		// The stored record is still accurate as of its last update.
		s.logger.Warn("refund refresh failed", zap.String("refund_id", id), zap.Error(err))
		return refund, nil
	}
	if upstream.Status == refund.Status {
		return refund, nil
	}

	if err := s.refundRepo.UpdateStatus(ctx, refund.ID, upstream.Status); err != nil {
		return nil, err
	}
	refund.Status = upstream.Status
	s.publish(ctx, events.NewRefundEvent(events.TypeRefundUpdated, eventSource, refund))
	return refund, nil
}

// ListRefunds returns the refunds issued against a transaction.
func (s *TransactionService) ListRefunds(ctx context.Context, transactionID string) ([]*domain.Refund, error) {
	if _, err := s.Get(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.refundRepo.ListByTransaction(ctx, transactionID)
}
