package repository

import (
	"context"

	"payments/internal/domain"
)

// CustomerRepository records which provider owns each customer so that
// charges for the customer are sent to the same provider.
type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	Update(ctx context.Context, customer *domain.Customer) error
	Delete(ctx context.Context, id string) error
}
