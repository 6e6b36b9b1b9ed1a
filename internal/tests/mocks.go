package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"payments/internal/domain"
	"payments/internal/events"
	"payments/internal/provider"
	"payments/internal/provider/mock"
	"payments/internal/redis"
	"payments/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK TRANSACTION REPOSITORY
// ──────────────────────────────────────────────

// MockTransactionRepository is a mock implementation of TransactionRepository.
type MockTransactionRepository struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError error
	UpdateError error
	LookupError error
}

// NewMockTransactionRepository creates a new mock transaction repository.
func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[string]*domain.Transaction),
	}
}

// AddTransaction adds a transaction to the mock repository.
func (m *MockTransactionRepository) AddTransaction(tx *domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.ID == tx.ID ||
			(tx.IdempotencyKey != "" && t.IdempotencyKey == tx.IdempotencyKey) ||
			(t.Provider == tx.Provider && t.ProviderID == tx.ProviderID) {
			return repository.ErrDuplicate
		}
	}
	copy := *tx
	m.transactions[tx.ID] = &copy
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *tx
	return &copy, nil
}

func (m *MockTransactionRepository) GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Transaction, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.transactions {
		if tx.Provider == provider && tx.ProviderID == providerID {
			copy := *tx
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.transactions {
		if tx.IdempotencyKey == key {
			copy := *tx
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockTransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.ID]; !ok {
		return repository.ErrNotFound
	}
	copy := *tx
	m.transactions[tx.ID] = &copy
	return nil
}

func (m *MockTransactionRepository) List(ctx context.Context, params domain.ListTransactionsParams) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Transaction, 0, len(m.transactions))
	for _, tx := range m.transactions {
		if params.CustomerID != "" && tx.CustomerID != params.CustomerID {
			continue
		}
		copy := *tx
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

func (m *MockTransactionRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []*domain.Transaction{}
	for _, tx := range m.transactions {
		if tx.Status != domain.TransactionStatusPending && tx.Status != domain.TransactionStatusProcessing {
			continue
		}
		if !tx.CreatedAt.Before(createdBefore) {
			continue
		}
		copy := *tx
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetTransaction returns transaction for test assertions.
func (m *MockTransactionRepository) GetTransaction(id string) *domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactions[id]
}

// CountTransactions returns the number of recorded transactions.
func (m *MockTransactionRepository) CountTransactions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

// ──────────────────────────────────────────────
// MOCK REFUND REPOSITORY
// ──────────────────────────────────────────────

// MockRefundRepository is a mock implementation of RefundRepository.
type MockRefundRepository struct {
	mu      sync.RWMutex
	refunds map[string]*domain.Refund

	CreateCallCount int32

	CreateError error
}

// NewMockRefundRepository creates a new mock refund repository.
func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{
		refunds: make(map[string]*domain.Refund),
	}
}

// AddRefund adds a refund to the mock repository.
func (m *MockRefundRepository) AddRefund(r *domain.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
}

func (m *MockRefundRepository) Create(ctx context.Context, r *domain.Refund) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[r.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range m.refunds {
		if existing.Provider == r.Provider && existing.ProviderID == r.ProviderID {
			return repository.ErrDuplicate
		}
	}
	copy := *r
	m.refunds[r.ID] = &copy
	return nil
}

func (m *MockRefundRepository) GetByProviderID(ctx context.Context, provider, providerID string) (*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.refunds {
		if r.Provider == provider && r.ProviderID == providerID {
			copy := *r
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

// CountRefunds returns the number of recorded refunds.
func (m *MockRefundRepository) CountRefunds() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.refunds)
}

func (m *MockRefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

func (m *MockRefundRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []*domain.Refund{}
	for _, r := range m.refunds {
		if r.TransactionID == transactionID {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockRefundRepository) UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	return nil
}

// ──────────────────────────────────────────────
// MOCK CUSTOMER REPOSITORY
// ──────────────────────────────────────────────

// MockCustomerRepository is a mock implementation of CustomerRepository.
type MockCustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]*domain.Customer

	LookupError error
}

// NewMockCustomerRepository creates a new mock customer repository.
func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{
		customers: make(map[string]*domain.Customer),
	}
}

// AddCustomer adds a customer to the mock repository.
func (m *MockCustomerRepository) AddCustomer(c *domain.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
}

func (m *MockCustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return repository.ErrDuplicate
	}
	copy := *c
	m.customers[c.ID] = &copy
	return nil
}

func (m *MockCustomerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

func (m *MockCustomerRepository) Update(ctx context.Context, c *domain.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; !ok {
		return repository.ErrNotFound
	}
	copy := *c
	m.customers[c.ID] = &copy
	return nil
}

func (m *MockCustomerRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.customers, id)
	return nil
}

// GetCustomer returns customer for test assertions.
func (m *MockCustomerRepository) GetCustomer(id string) *domain.Customer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customers[id]
}

// ──────────────────────────────────────────────
// MOCK WEBHOOK STORE
// ──────────────────────────────────────────────

// MockWebhookStore is a mock implementation of WebhookStoreInterface.
type MockWebhookStore struct {
	mu     sync.Mutex
	claims map[string]bool

	ReleaseCallCount int32

	ClaimError error
}

var _ redis.WebhookStoreInterface = (*MockWebhookStore)(nil)

// NewMockWebhookStore creates a new mock webhook store.
func NewMockWebhookStore() *MockWebhookStore {
	return &MockWebhookStore{claims: make(map[string]bool)}
}

func (m *MockWebhookStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	if m.ClaimError != nil {
		return false, m.ClaimError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + ":" + eventID
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *MockWebhookStore) Release(ctx context.Context, provider, eventID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, provider+":"+eventID)
	return nil
}

// IsClaimed reports whether an event is currently claimed.
func (m *MockWebhookStore) IsClaimed(provider, eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[provider+":"+eventID]
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event

	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, e events.Event) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Types returns the types of the published events in order.
func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// ──────────────────────────────────────────────
// PROVIDERS
// ──────────────────────────────────────────────

// ErrInjected is returned by mocks configured to fail.
var ErrInjected = errors.New("injected failure")

// RetypedProvider registers a mock provider under another type so routing
// between two independent backends can be exercised without network access.
type RetypedProvider struct {
	*mock.Provider
	As provider.Type
}

func (p *RetypedProvider) Type() provider.Type { return p.As }
func (p *RetypedProvider) Name() string        { return string(p.As) }

// NewMockProvider creates a mock provider with fast retries. Threshold sets
// the number of failures that open its breaker.
func NewMockProvider(threshold int) *mock.Provider {
	cfg := mock.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Breaker.Threshold = threshold
	p, err := mock.New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}
