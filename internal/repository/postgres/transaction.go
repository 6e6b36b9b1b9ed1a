package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payments/internal/domain"
	"payments/internal/repository"
)

const transactionColumns = `id, provider, provider_id, amount, currency, captured_amount, status, customer_id,
		payment_method_id, idempotency_key, failure_code, failure_message, created_at, captured_at`

// TransactionRepository is a PostgreSQL implementation of repository.TransactionRepository.
type TransactionRepository struct {
	q Querier
}

var _ repository.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{q: db}
}

// Create persists a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var capturedAt sql.NullTime
	if tx.CapturedAt != nil {
		capturedAt = sql.NullTime{Time: *tx.CapturedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		tx.ID,
		tx.Provider,
		tx.ProviderID,
		tx.Amount.Amount,
		tx.Amount.Currency,
		tx.CapturedAmount,
		tx.Status,
		tx.CustomerID,
		nullString(tx.PaymentMethodID),
		nullString(tx.IdempotencyKey),
		nullString(tx.FailureCode),
		nullString(tx.FailureMessage),
		tx.CreatedAt,
		capturedAt,
	)

	return translate(err)
}

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return tx, nil
}

// GetByProviderID retrieves a transaction by the id its provider assigned.
func (r *TransactionRepository) GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider = $1 AND provider_id = $2`

	tx, err := scanTransaction(r.q.QueryRowContext(ctx, query, provider, providerID))
	if err != nil {
		return nil, translate(err)
	}
	return tx, nil
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key.
// Returns nil if no transaction exists with the given key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	tx, err := scanTransaction(r.q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

// Update overwrites the mutable fields of a transaction.
func (r *TransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, captured_amount = $2, captured_at = $3, failure_code = $4, failure_message = $5
		WHERE id = $6
	`

	var capturedAt sql.NullTime
	if tx.CapturedAt != nil {
		capturedAt = sql.NullTime{Time: *tx.CapturedAt, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		tx.Status,
		tx.CapturedAmount,
		capturedAt,
		nullString(tx.FailureCode),
		nullString(tx.FailureMessage),
		tx.ID,
	)
	if err != nil {
		return err
	}

	return expectOne(result)
}

// List returns transactions newest first, optionally for one customer.
func (r *TransactionRepository) List(ctx context.Context, params domain.ListTransactionsParams) ([]*domain.Transaction, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ($1::text = '' OR customer_id = $1)
		ORDER BY created_at DESC LIMIT $2
	`

	return r.query(ctx, query, params.CustomerID, limit)
}

// ListPending returns pending or processing transactions created before the cutoff, oldest first.
func (r *TransactionRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC LIMIT $4
	`

	return r.query(ctx, query,
		domain.TransactionStatusPending,
		domain.TransactionStatusProcessing,
		createdBefore,
		limit,
	)
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var paymentMethodID, idempotencyKey, failureCode, failureMessage sql.NullString
	var capturedAt sql.NullTime

	err := s.Scan(
		&tx.ID,
		&tx.Provider,
		&tx.ProviderID,
		&tx.Amount.Amount,
		&tx.Amount.Currency,
		&tx.CapturedAmount,
		&tx.Status,
		&tx.CustomerID,
		&paymentMethodID,
		&idempotencyKey,
		&failureCode,
		&failureMessage,
		&tx.CreatedAt,
		&capturedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.PaymentMethodID = paymentMethodID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.FailureCode = failureCode.String
	tx.FailureMessage = failureMessage.String
	if capturedAt.Valid {
		t := capturedAt.Time
		tx.CapturedAt = &t
	}

	return &tx, nil
}
