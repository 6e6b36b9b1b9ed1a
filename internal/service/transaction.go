package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/events"
	"payments/internal/idempotency"
	"payments/internal/provider"
	"payments/internal/repository"
	"payments/internal/result"
)

// EventPublisher is the interface for publishing transaction events.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

const eventSource = "payments-api"

// TransactionService charges customers through the routed provider and keeps
// a local record of every transaction and refund.
type TransactionService struct {
	payments   *PaymentService
	txRepo     repository.TransactionRepository
	refundRepo repository.RefundRepository
	customers  repository.CustomerRepository
	publisher  EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewTransactionService creates a new TransactionService. customers,
// publisher and logger may be nil.
func NewTransactionService(
	payments *PaymentService,
	txRepo repository.TransactionRepository,
	refundRepo repository.RefundRepository,
	customers repository.CustomerRepository,
	publisher EventPublisher,
	logger *zap.Logger,
) *TransactionService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionService{
		payments:   payments,
		txRepo:     txRepo,
		refundRepo: refundRepo,
		customers:  customers,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// ChargeRequest contains the parameters for a charge or authorization.
type ChargeRequest struct {
	Amount          domain.Money
	CustomerID      string
	PaymentMethodID string
	Description     string
	Metadata        map[string]string
	IdempotencyKey  string

	// Routing inputs. Provider is an explicit preference.
	Provider provider.Type
	UserID   string
	Groups   []string
}

func (r ChargeRequest) params(capture bool) domain.ChargeParams {
	return domain.ChargeParams{
		Amount:          r.Amount,
		CustomerID:      r.CustomerID,
		PaymentMethodID: r.PaymentMethodID,
		IdempotencyKey:  r.IdempotencyKey,
		Capture:         capture,
		Description:     r.Description,
		Metadata:        r.Metadata,
	}
}

// Charge authorizes and captures in one step.
func (s *TransactionService) Charge(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return s.create(ctx, "charge", req.params(true), req)
}

// Authorize reserves funds for a later Capture or Void.
func (s *TransactionService) Authorize(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return s.create(ctx, "authorize", req.params(false), req)
}

func (s *TransactionService) create(ctx context.Context, op string, params domain.ChargeParams, req ChargeRequest) (*domain.Transaction, error) {
	if params.CustomerID == "" {
		return nil, ErrInvalidCustomerID
	}
	if err := params.Amount.Validate(); err != nil {
		return nil, err
	}
	if params.Amount.Amount == 0 {
		return nil, ErrInvalidAmount
	}

	// The same key is used for the local replay check and sent upstream.
	params.IdempotencyKey = idempotency.ResolveCharge(params)

	existing, err := s.txRepo.GetByIdempotencyKey(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !sameCharge(existing, params) {
			return nil, ErrIdempotencyKeyReused
		}
		return existing, nil
	}

	call := func(ctx context.Context, p provider.Provider) (*domain.Transaction, error) {
		var tx *domain.Transaction
		var err error
		if params.Capture {
			tx, err = p.Charge(ctx, params)
		} else {
			tx, err = p.Authorize(ctx, params)
		}
		if err != nil {
			return nil, err
		}
		tx.Provider = string(p.Type())
		return tx, nil
	}

	var res result.Result[*domain.Transaction]
	if owner, ok := s.customerProvider(ctx, params.CustomerID); ok {
		res = ExecuteOn(ctx, s.payments, owner, op, call)
	} else {
		res = Execute(ctx, s.payments, Selection{
			Type:     req.Provider,
			UserID:   req.UserID,
			Groups:   req.Groups,
			Currency: params.Amount.Currency,
		}, op, call)
	}
	tx, err := res.Get()
	if err != nil {
		return nil, err
	}

	tx.ID = uuid.New().String()
	tx.IdempotencyKey = params.IdempotencyKey
	if err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// A concurrent request with the same key won the insert.
			if winner, lookupErr := s.txRepo.GetByIdempotencyKey(ctx, params.IdempotencyKey); lookupErr == nil && winner != nil {
				return winner, nil
			}
		}
		s.logger.Error("transaction succeeded upstream but was not recorded",
			zap.String("provider", tx.Provider),
			zap.String("provider_id", tx.ProviderID),
			zap.String("idempotency_key", tx.IdempotencyKey),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	s.logger.Info("transaction created",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", tx.Provider),
		zap.String("operation", op),
		zap.String("status", string(tx.Status)),
		zap.Stringer("amount", tx.Amount),
	)
	s.publish(ctx, events.NewTransactionEvent(events.TypeTransactionCreated, eventSource, tx))
	return tx, nil
}

func sameCharge(tx *domain.Transaction, params domain.ChargeParams) bool {
	if tx.Amount != params.Amount || tx.CustomerID != params.CustomerID {
		return false
	}
	return params.PaymentMethodID == "" || params.PaymentMethodID == tx.PaymentMethodID
}

// customerProvider returns the provider that owns a known customer.
func (s *TransactionService) customerProvider(ctx context.Context, customerID string) (provider.Type, bool) {
	if s.customers == nil {
		return "", false
	}
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("customer lookup failed, routing charge", zap.String("customer_id", customerID), zap.Error(err))
		}
		return "", false
	}
	return provider.Type(c.Provider), true
}

// CaptureRequest contains the parameters for capturing an authorization.
type CaptureRequest struct {
	TransactionID  string
	Amount         *int64
	IdempotencyKey string
}

// Capture settles an authorization. A nil Amount captures the full amount.
func (s *TransactionService) Capture(ctx context.Context, req CaptureRequest) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !tx.CanVoid() {
		return nil, ErrTransactionNotCapturable
	}
	if req.Amount != nil && (*req.Amount <= 0 || *req.Amount > tx.Amount.Amount) {
		return nil, ErrInvalidAmount
	}

	updated, err := ExecuteOn(ctx, s.payments, provider.Type(tx.Provider), "capture",
		func(ctx context.Context, p provider.Provider) (*domain.Transaction, error) {
			return p.Capture(ctx, domain.CaptureParams{
				TransactionID:  tx.ProviderID,
				Amount:         req.Amount,
				IdempotencyKey: req.IdempotencyKey,
			})
		}).Get()
	if err != nil {
		return nil, err
	}

	tx.CapturedAmount = updated.CapturedAmount
	tx.CapturedAt = updated.CapturedAt
	if tx.CapturedAt == nil {
		now := s.now()
		tx.CapturedAt = &now
	}
	return s.transition(ctx, tx, updated.Status, "", "")
}

// Void cancels an uncaptured authorization.
func (s *TransactionService) Void(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.CanVoid() {
		return nil, ErrTransactionNotVoidable
	}

	if _, err := ExecuteOn(ctx, s.payments, provider.Type(tx.Provider), "void",
		func(ctx context.Context, p provider.Provider) (*domain.Transaction, error) {
			return p.Void(ctx, tx.ProviderID)
		}).Get(); err != nil {
		return nil, err
	}

	return s.transition(ctx, tx, domain.TransactionStatusCancelled, "", "")
}

// Get retrieves a transaction by ID.
func (s *TransactionService) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	if id == "" {
		return nil, ErrInvalidTransactionID
	}
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// List returns recorded transactions newest first.
func (s *TransactionService) List(ctx context.Context, params domain.ListTransactionsParams) ([]*domain.Transaction, error) {
	return s.txRepo.List(ctx, params)
}

// Refresh re-reads a transaction from its provider and applies the upstream status.
func (s *TransactionService) Refresh(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	upstream, err := ExecuteOn(ctx, s.payments, provider.Type(tx.Provider), "get_transaction",
		func(ctx context.Context, p provider.Provider) (*domain.Transaction, error) {
			return p.GetTransaction(ctx, tx.ProviderID)
		}).Get()
	if err != nil {
		return nil, err
	}
	if upstream.Status == tx.Status {
		return tx, nil
	}
	if upstream.Captured() && !tx.Captured() {
		tx.CapturedAmount = upstream.CapturedAmount
		tx.CapturedAt = upstream.CapturedAt
	}
	return s.transition(ctx, tx, upstream.Status, upstream.FailureCode, upstream.FailureMessage)
}

// ApplyUpdate applies a provider-reported status change to the recorded
// transaction. Updates that the state machine rejects return
// domain.ErrInvalidTransition and leave the record untouched.
func (s *TransactionService) ApplyUpdate(ctx context.Context, t provider.Type, u *domain.TransactionUpdate) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByProviderID(ctx, string(t), u.ProviderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if tx.Status == u.Status {
		return tx, nil
	}
	return s.transition(ctx, tx, u.Status, u.FailureCode, u.FailureMessage)
}

// Reconcile refreshes transactions that have been pending or processing for
// longer than age. It returns how many changed status.
func (s *TransactionService) Reconcile(ctx context.Context, age time.Duration, limit int) (int, error) {
	pending, err := s.txRepo.ListPending(ctx, s.now().Add(-age), limit)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, tx := range pending {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		refreshed, err := s.Refresh(ctx, tx.ID)
		if err != nil {
			s.logger.Warn("reconcile failed",
				zap.String("transaction_id", tx.ID),
				zap.String("provider", tx.Provider),
				zap.Error(err),
			)
			continue
		}
		if refreshed.Status != tx.Status {
			changed++
		}
	}
	return changed, nil
}

// transition moves tx to status through the state machine and persists it.
func (s *TransactionService) transition(ctx context.Context, tx *domain.Transaction, status domain.TransactionStatus, failureCode, failureMessage string) (*domain.Transaction, error) {
	if !domain.CanTransition(tx.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, tx.Status, status)
	}
	from := tx.Status
	tx.Status = status
	if failureCode != "" || failureMessage != "" {
		tx.FailureCode = failureCode
		tx.FailureMessage = failureMessage
	}

	if err := s.txRepo.Update(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("transaction updated",
		zap.String("transaction_id", tx.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	s.publish(ctx, events.NewTransactionEvent(events.TypeTransactionUpdated, eventSource, tx))
	return tx, nil
}

// publish never fails the caller; the record is already persisted.
func (s *TransactionService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error("failed to publish transaction event",
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
	}
}
