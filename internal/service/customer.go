package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/repository"
)

// CustomerService manages customers and their payment methods. A customer
// lives on exactly one provider; every later call for it goes there.
type CustomerService struct {
	payments  *PaymentService
	customers repository.CustomerRepository
	logger    *zap.Logger
}

// NewCustomerService creates a new CustomerService.
func NewCustomerService(payments *PaymentService, customers repository.CustomerRepository, logger *zap.Logger) *CustomerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerService{
		payments:  payments,
		customers: customers,
		logger:    logger,
	}
}

// CreateCustomerRequest contains the parameters for creating a customer.
type CreateCustomerRequest struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string

	Provider provider.Type
	UserID   string
	Groups   []string
}

// Create creates the customer on the routed provider and records the owner.
func (s *CustomerService) Create(ctx context.Context, req CreateCustomerRequest) (*domain.Customer, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, ErrInvalidEmail
	}

	sel := Selection{Type: req.Provider, UserID: req.UserID, Groups: req.Groups}
	c, err := Execute(ctx, s.payments, sel, "create_customer",
		func(ctx context.Context, p provider.Provider) (*domain.Customer, error) {
			c, err := p.CreateCustomer(ctx, domain.CreateCustomerParams{
				Email:          req.Email,
				Name:           req.Name,
				Metadata:       req.Metadata,
				IdempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return nil, err
			}
			c.Provider = string(p.Type())
			return c, nil
		}).Get()
	if err != nil {
		return nil, err
	}

	if err := s.customers.Create(ctx, c); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("record customer: %w", err)
	}

	s.logger.Info("customer created",
		zap.String("customer_id", c.ID),
		zap.String("provider", c.Provider),
	)
	return c, nil
}

// Get fetches the customer from its provider.
func (s *CustomerService) Get(ctx context.Context, id string) (*domain.Customer, error) {
	owner, err := s.owner(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := ExecuteOn(ctx, s.payments, owner, "get_customer",
		func(ctx context.Context, p provider.Provider) (*domain.Customer, error) {
			return p.GetCustomer(ctx, id)
		}).Get()
	if err != nil {
		return nil, err
	}
	c.Provider = string(owner)
	return c, nil
}

// Update changes the given fields on the provider and in the local record.
func (s *CustomerService) Update(ctx context.Context, id string, params domain.UpdateCustomerParams) (*domain.Customer, error) {
	if params.Email != nil && strings.TrimSpace(*params.Email) == "" {
		return nil, ErrInvalidEmail
	}
	owner, err := s.owner(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := ExecuteOn(ctx, s.payments, owner, "update_customer",
		func(ctx context.Context, p provider.Provider) (*domain.Customer, error) {
			return p.UpdateCustomer(ctx, id, params)
		}).Get()
	if err != nil {
		return nil, err
	}
	c.Provider = string(owner)

	if err := s.customers.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("record customer: %w", err)
	}
	return c, nil
}

// Delete removes the customer upstream and then locally.
func (s *CustomerService) Delete(ctx context.Context, id string) error {
	owner, err := s.owner(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ExecuteOn(ctx, s.payments, owner, "delete_customer",
		func(ctx context.Context, p provider.Provider) (struct{}, error) {
			return struct{}{}, p.DeleteCustomer(ctx, id)
		}).Get(); err != nil {
		return err
	}

	if err := s.customers.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.logger.Info("customer deleted", zap.String("customer_id", id), zap.String("provider", string(owner)))
	return nil
}

// AttachPaymentMethod attaches a tokenized payment method to the customer.
func (s *CustomerService) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*domain.PaymentMethod, error) {
	if paymentMethodID == "" {
		return nil, ErrInvalidPaymentMethod
	}
	owner, err := s.owner(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return ExecuteOn(ctx, s.payments, owner, "attach_payment_method",
		func(ctx context.Context, p provider.Provider) (*domain.PaymentMethod, error) {
			return p.AttachPaymentMethod(ctx, customerID, paymentMethodID)
		}).Get()
}

// DetachPaymentMethod removes a payment method from the customer.
func (s *CustomerService) DetachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return ErrInvalidPaymentMethod
	}
	owner, err := s.owner(ctx, customerID)
	if err != nil {
		return err
	}
	_, err = ExecuteOn(ctx, s.payments, owner, "detach_payment_method",
		func(ctx context.Context, p provider.Provider) (struct{}, error) {
			return struct{}{}, p.DetachPaymentMethod(ctx, paymentMethodID)
		}).Get()
	return err
}

// ListPaymentMethods returns the customer's payment methods.
func (s *CustomerService) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	owner, err := s.owner(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return ExecuteOn(ctx, s.payments, owner, "list_payment_methods",
		func(ctx context.Context, p provider.Provider) ([]domain.PaymentMethod, error) {
			return p.ListPaymentMethods(ctx, customerID)
		}).Get()
}

// SetDefaultPaymentMethod makes paymentMethodID the customer's default.
func (s *CustomerService) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return ErrInvalidPaymentMethod
	}
	owner, err := s.owner(ctx, customerID)
	if err != nil {
		return err
	}
	_, err = ExecuteOn(ctx, s.payments, owner, "set_default_payment_method",
		func(ctx context.Context, p provider.Provider) (struct{}, error) {
			return struct{}{}, p.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
		}).Get()
	return err
}

func (s *CustomerService) owner(ctx context.Context, id string) (provider.Type, error) {
	if id == "" {
		return "", ErrInvalidCustomerID
	}
	c, err := s.customers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}
	return provider.Type(c.Provider), nil
}
