package postgres

import (
	"context"
	"database/sql"

	"payments/internal/domain"
	"payments/internal/repository"
)

const refundColumns = `id, provider, provider_id, transaction_id, amount, currency, status, reason, created_at`

// RefundRepository is a PostgreSQL implementation of repository.RefundRepository.
type RefundRepository struct {
	q Querier
}

var _ repository.RefundRepository = (*RefundRepository)(nil)

// NewRefundRepository creates a new PostgreSQL refund repository.
func NewRefundRepository(db *sql.DB) *RefundRepository {
	return &RefundRepository{q: db}
}

// Create persists a new refund.
func (r *RefundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		refund.ID,
		refund.Provider,
		refund.ProviderID,
		refund.TransactionID,
		refund.Amount.Amount,
		refund.Amount.Currency,
		refund.Status,
		nullString(refund.Reason),
		refund.CreatedAt,
	)

	return translate(err)
}

// GetByID retrieves a refund by ID.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`

	refund, err := scanRefund(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return refund, nil
}

// GetByProviderID retrieves a refund by the provider's own id.
func (r *RefundRepository) GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE provider = $1 AND provider_id = $2`

	refund, err := scanRefund(r.q.QueryRowContext(ctx, query, provider, providerID))
	if err != nil {
		return nil, translate(err)
	}
	return refund, nil
}

// ListByTransaction returns a transaction's refunds oldest first.
func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE transaction_id = $1 ORDER BY created_at ASC`

	rows, err := r.q.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}

	return refunds, rows.Err()
}

// UpdateStatus updates the status of a refund.
func (r *RefundRepository) UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error {
	query := `UPDATE refunds SET status = $1 WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}

	return expectOne(result)
}

func scanRefund(s scanner) (*domain.Refund, error) {
	var refund domain.Refund
	var reason sql.NullString

	err := s.Scan(
		&refund.ID,
		&refund.Provider,
		&refund.ProviderID,
		&refund.TransactionID,
		&refund.Amount.Amount,
		&refund.Amount.Currency,
		&refund.Status,
		&reason,
		&refund.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	refund.Reason = reason.String

	return &refund, nil
}
