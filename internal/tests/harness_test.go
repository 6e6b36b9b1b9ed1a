package tests

import (
	"context"
	"testing"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/provider/mock"
	"payments/internal/service"
)

// harness wires the payment services against in-memory repositories and a
// single mock provider registered as primary.
type harness struct {
	provider     *mock.Provider
	payments     *service.PaymentService
	txRepo       *MockTransactionRepository
	refundRepo   *MockRefundRepository
	customerRepo *MockCustomerRepository
	dedupe       *MockWebhookStore
	publisher    *MockPublisher
	transactions *service.TransactionService
	customers    *service.CustomerService
	webhooks     *service.WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		provider:     NewMockProvider(5),
		payments:     service.NewPaymentService(),
		txRepo:       NewMockTransactionRepository(),
		refundRepo:   NewMockRefundRepository(),
		customerRepo: NewMockCustomerRepository(),
		dedupe:       NewMockWebhookStore(),
		publisher:    NewMockPublisher(),
	}
	if err := h.payments.Register(h.provider); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.payments.SetPrimary(provider.TypeMock); err != nil {
		t.Fatalf("set primary: %v", err)
	}

	h.transactions = service.NewTransactionService(h.payments, h.txRepo, h.refundRepo, h.customerRepo, h.publisher, nil)
	h.customers = service.NewCustomerService(h.payments, h.customerRepo, nil)
	h.webhooks = service.NewWebhookService(h.payments, h.transactions, h.dedupe, nil)
	return h
}

// customer creates a customer with a default Visa card.
func (h *harness) customer(t *testing.T) *domain.Customer {
	t.Helper()
	ctx := context.Background()

	c, err := h.customers.Create(ctx, service.CreateCustomerRequest{Email: "jane@example.com", Name: "Jane"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if _, err := h.customers.AttachPaymentMethod(ctx, c.ID, mock.TokenVisa); err != nil {
		t.Fatalf("attach payment method: %v", err)
	}
	return c
}

func gbp(amount int64) domain.Money {
	return domain.Money{Amount: amount, Currency: domain.CurrencyGBP}
}

func int64Ptr(v int64) *int64 {
	return &v
}
