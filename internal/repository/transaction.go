package repository

import (
	"context"
	"time"

	"payments/internal/domain"
)

// TransactionRepository defines the persistence operations for transactions.
type TransactionRepository interface {
	// Create persists a new transaction.
	Create(ctx context.Context, tx *domain.Transaction) error

	// GetByID retrieves a transaction by ID.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetByProviderID retrieves a transaction by the id its provider assigned.
	GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Transaction, error)

	// GetByIdempotencyKey retrieves a transaction by its idempotency key.
	// Returns nil if no transaction exists with the given key.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// Update overwrites the mutable fields of a transaction.
	Update(ctx context.Context, tx *domain.Transaction) error

	// List returns transactions newest first.
	List(ctx context.Context, params domain.ListTransactionsParams) ([]*domain.Transaction, error)

	// ListPending returns pending or processing transactions created before the cutoff.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Transaction, error)
}

// RefundRepository defines the persistence operations for refunds.
type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	GetByID(ctx context.Context, id string) (*domain.Refund, error)
	GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Refund, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Refund, error)
	UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error
}
