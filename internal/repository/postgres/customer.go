package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"payments/internal/domain"
	"payments/internal/repository"
)

// CustomerRepository is a PostgreSQL implementation of repository.CustomerRepository.
type CustomerRepository struct {
	q Querier
}

var _ repository.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository creates a new PostgreSQL customer repository.
func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{q: db}
}

// Create persists a new customer.
func (r *CustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	query := `
		INSERT INTO customers (id, provider, email, name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		c.ID,
		c.Provider,
		c.Email,
		nullString(c.Name),
		metadata,
		c.CreatedAt,
	)

	return translate(err)
}

// GetByID retrieves a customer by ID.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	query := `SELECT id, provider, email, name, metadata, created_at FROM customers WHERE id = $1`

	var c domain.Customer
	var name sql.NullString
	var metadata []byte

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Provider,
		&c.Email,
		&name,
		&metadata,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}

	c.Name = name.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// Update overwrites the customer's email, name and metadata.
func (r *CustomerRepository) Update(ctx context.Context, c *domain.Customer) error {
	query := `UPDATE customers SET email = $1, name = $2, metadata = $3 WHERE id = $4`

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, query, c.Email, nullString(c.Name), metadata, c.ID)
	if err != nil {
		return err
	}

	return expectOne(result)
}

// Delete removes a customer record.
func (r *CustomerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectOne(result)
}
