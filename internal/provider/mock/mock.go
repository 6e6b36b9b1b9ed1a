// Package mock is a deterministic in-memory payment provider with failure
// injection. It backs local development and the test suites.
package mock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/idempotency"
	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/resilience"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Mock-Signature"

// Payment method tokens with scripted behaviour, named after the usual
// processor test cards.
const (
	TokenVisa              = "pm_card_visa"
	TokenMastercard        = "pm_card_mastercard"
	TokenDeclined          = "pm_card_declined"
	TokenInsufficientFunds = "pm_card_insufficient_funds"
	TokenExpired           = "pm_card_expired"
)

var _ provider.Provider = (*Provider)(nil)

// Config configures the mock provider.
type Config struct {
	Name          string
	WebhookSecret string
	Currencies    []domain.Currency
	Latency       time.Duration
	Retry         resilience.RetryPolicy
	Breaker       resilience.BreakerConfig
	Recorder      provider.Recorder
	Tracer        trace.Tracer
	Logger        *zap.Logger
	Clock         resilience.Clock
}

// DefaultConfig returns a mock supporting every platform currency.
func DefaultConfig() Config {
	return Config{
		Name:          string(provider.TypeMock),
		WebhookSecret: "whsec_mock",
		Currencies:    domain.SupportedCurrencies,
		Retry:         resilience.DefaultRetryPolicy(),
		Breaker:       resilience.DefaultBreakerConfig(),
	}
}

type injectedFailure struct {
	code providererr.Code
}

// Provider is an in-memory payment provider.
type Provider struct {
	name       string
	secret     []byte
	currencies []domain.Currency
	guard      *provider.Guard
	now        func() time.Time

	calls   atomic.Int64
	healthy atomic.Bool
	latency atomic.Int64

	mu             sync.Mutex
	failures       []injectedFailure
	customers      map[string]*domain.Customer
	paymentMethods map[string]*domain.PaymentMethod
	// methodTokens maps an attached payment method id to the test token it
	// was created from.
	methodTokens map[string]string
	transactions   map[string]*domain.Transaction
	refunds        map[string]*domain.Refund
	// replays maps an idempotency key to the request fingerprint and the
	// response it produced.
	replays map[string]replay
}

type replay struct {
	fingerprint string
	response    any
}

// New creates a mock provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = string(provider.TypeMock)
	}
	if cfg.WebhookSecret == "" {
		return nil, providererr.New(cfg.Name, providererr.CodeConfiguration, "webhook secret is required")
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = domain.SupportedCurrencies
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryPolicy()
	}
	if cfg.Breaker.Threshold == 0 {
		cfg.Breaker = resilience.DefaultBreakerConfig()
	}

	guard, err := provider.NewGuard(provider.GuardConfig{
		Name:     cfg.Name,
		Retry:    cfg.Retry,
		Breaker:  cfg.Breaker,
		Recorder: cfg.Recorder,
		Tracer:   cfg.Tracer,
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	p := &Provider{
		name:           cfg.Name,
		secret:         []byte(cfg.WebhookSecret),
		currencies:     cfg.Currencies,
		guard:          guard,
		now:            time.Now,
		customers:      make(map[string]*domain.Customer),
		paymentMethods: make(map[string]*domain.PaymentMethod),
		methodTokens:   make(map[string]string),
		transactions:   make(map[string]*domain.Transaction),
		refunds:        make(map[string]*domain.Refund),
		replays:        make(map[string]replay),
	}
	if cfg.Clock != nil {
		p.now = cfg.Clock.Now
	}
	p.healthy.Store(true)
	p.latency.Store(int64(cfg.Latency))
	return p, nil
}

// ──────────────────────────────────────────────
// FAILURE INJECTION
// ──────────────────────────────────────────────

// FailNext makes the next n upstream calls fail with code before they have
// any effect.
func (p *Provider) FailNext(n int, code providererr.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.failures = append(p.failures, injectedFailure{code: code})
	}
}

// SetHealthy toggles the health check and makes every upstream call fail with
// service_unavailable while unhealthy.
func (p *Provider) SetHealthy(ok bool) {
	p.healthy.Store(ok)
}

// SetLatency adds a delay to every upstream call.
func (p *Provider) SetLatency(d time.Duration) {
	p.latency.Store(int64(d))
}

// Calls returns how many times the simulated upstream was contacted.
func (p *Provider) Calls() int64 {
	return p.calls.Load()
}

// Sign returns the signature a genuine webhook delivery would carry.
func (p *Provider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// upstream simulates the network hop. It must be called once at the start
// of every remote operation.
func (p *Provider) upstream(ctx context.Context) error {
	p.calls.Add(1)

	if d := time.Duration(p.latency.Load()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.healthy.Load() {
		return providererr.New(p.name, providererr.CodeServiceUnavailable, "upstream unavailable")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		f := p.failures[0]
		p.failures = p.failures[1:]
		return providererr.New(p.name, f.code, "injected failure")
	}
	return nil
}

// ──────────────────────────────────────────────
// METADATA
// ──────────────────────────────────────────────

func (p *Provider) Name() string                           { return p.name }
func (p *Provider) Type() provider.Type                    { return provider.TypeMock }
func (p *Provider) SupportedCurrencies() []domain.Currency { return p.currencies }
func (p *Provider) SignatureHeader() string                { return SignatureHeader }
func (p *Provider) Metrics() provider.Snapshot             { return p.guard.Snapshot() }
func (p *Provider) BreakerState() string                   { return p.guard.Breaker().State().String() }
func (p *Provider) ResetBreaker()                          { p.guard.Breaker().Reset() }

func (p *Provider) SupportsCurrency(c domain.Currency) bool {
	return provider.SupportsCurrency(p.currencies, c)
}

// HealthCheck reports upstream reachability. It goes through the breaker
// but is never retried.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := provider.DoOnce(ctx, p.guard, "health_check", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.upstream(ctx)
	})
	return err
}

// ──────────────────────────────────────────────
// CUSTOMERS
// ──────────────────────────────────────────────

func (p *Provider) CreateCustomer(ctx context.Context, params domain.CreateCustomerParams) (*domain.Customer, error) {
	key := idempotency.ResolveUnique(params.IdempotencyKey, "customer.create")
	fingerprint := idempotency.OperationKey("customer.create", params.Email, params.Name)

	return provider.Do(ctx, p.guard, "create_customer", func(ctx context.Context) (*domain.Customer, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		if !strings.Contains(params.Email, "@") {
			return nil, providererr.New(p.name, providererr.CodeInvalidRequest, "a valid email is required")
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok, err := replayed[*domain.Customer](p, key, fingerprint); ok || err != nil {
			return cloneCustomer(c), err
		}

		c := &domain.Customer{
			ID:        "cus_" + compactID(),
			Provider:  p.name,
			Email:     params.Email,
			Name:      params.Name,
			Metadata:  copyMetadata(params.Metadata),
			CreatedAt: p.now(),
		}
		p.customers[c.ID] = c
		p.replays[key] = replay{fingerprint: fingerprint, response: c}
		return cloneCustomer(c), nil
	})
}

func (p *Provider) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	return provider.Do(ctx, p.guard, "get_customer", func(ctx context.Context) (*domain.Customer, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		c, ok := p.customers[customerID]
		if !ok {
			return nil, p.customerNotFound(customerID)
		}
		return cloneCustomer(c), nil
	})
}

func (p *Provider) UpdateCustomer(ctx context.Context, customerID string, params domain.UpdateCustomerParams) (*domain.Customer, error) {
	return provider.Do(ctx, p.guard, "update_customer", func(ctx context.Context) (*domain.Customer, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		c, ok := p.customers[customerID]
		if !ok {
			return nil, p.customerNotFound(customerID)
		}
		if params.Email != nil {
			c.Email = *params.Email
		}
		if params.Name != nil {
			c.Name = *params.Name
		}
		if params.Metadata != nil {
			if c.Metadata == nil {
				c.Metadata = make(map[string]string, len(params.Metadata))
			}
			for k, v := range params.Metadata {
				// Empty values unset keys.
				if v == "" {
					delete(c.Metadata, k)
					continue
				}
				c.Metadata[k] = v
			}
		}
		return cloneCustomer(c), nil
	})
}

func (p *Provider) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := provider.Do(ctx, p.guard, "delete_customer", func(ctx context.Context) (struct{}, error) {
		if err := p.upstream(ctx); err != nil {
			return struct{}{}, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.customers[customerID]; !ok {
			return struct{}{}, p.customerNotFound(customerID)
		}
		delete(p.customers, customerID)
		for id, pm := range p.paymentMethods {
			if pm.CustomerID == customerID {
				delete(p.paymentMethods, id)
				delete(p.methodTokens, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// ──────────────────────────────────────────────
// PAYMENT METHODS
// ──────────────────────────────────────────────

func (p *Provider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*domain.PaymentMethod, error) {
	return provider.Do(ctx, p.guard, "attach_payment_method", func(ctx context.Context) (*domain.PaymentMethod, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.customers[customerID]; !ok {
			return nil, p.customerNotFound(customerID)
		}
		if pm, ok := p.paymentMethods[paymentMethodID]; ok {
			if pm.CustomerID != customerID {
				return nil, providererr.New(p.name, providererr.CodeInvalidPaymentMethod, "payment method is attached to another customer")
			}
			// Attaching twice is a no-op.
			out := *pm
			return &out, nil
		}

		// Every attach of a token creates a new payment method.
		pm := paymentMethodFromToken(paymentMethodID)
		if pm == nil {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidPaymentMethod, "unknown payment method token %q", paymentMethodID)
		}
		pm.ID = "pm_" + compactID()
		p.methodTokens[pm.ID] = paymentMethodID
		pm.CustomerID = customerID
		pm.IsDefault = p.defaultMethodLocked(customerID) == nil
		p.paymentMethods[pm.ID] = pm
		out := *pm
		return &out, nil
	})
}

func (p *Provider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := provider.Do(ctx, p.guard, "detach_payment_method", func(ctx context.Context) (struct{}, error) {
		if err := p.upstream(ctx); err != nil {
			return struct{}{}, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.paymentMethods[paymentMethodID]; !ok {
			return struct{}{}, providererr.Newf(p.name, providererr.CodeNotFound, "payment method %s not found", paymentMethodID)
		}
		delete(p.paymentMethods, paymentMethodID)
		delete(p.methodTokens, paymentMethodID)
		return struct{}{}, nil
	})
	return err
}

func (p *Provider) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	return provider.Do(ctx, p.guard, "list_payment_methods", func(ctx context.Context) ([]domain.PaymentMethod, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.customers[customerID]; !ok {
			return nil, p.customerNotFound(customerID)
		}
		out := []domain.PaymentMethod{}
		for _, pm := range p.paymentMethods {
			if pm.CustomerID == customerID {
				out = append(out, *pm)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

func (p *Provider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := provider.Do(ctx, p.guard, "set_default_payment_method", func(ctx context.Context) (struct{}, error) {
		if err := p.upstream(ctx); err != nil {
			return struct{}{}, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		pm, ok := p.paymentMethods[paymentMethodID]
		if !ok || pm.CustomerID != customerID {
			return struct{}{}, providererr.New(p.name, providererr.CodeInvalidPaymentMethod, "payment method is not attached to this customer")
		}
		for _, other := range p.paymentMethods {
			if other.CustomerID == customerID {
				other.IsDefault = other.ID == paymentMethodID
			}
		}
		return struct{}{}, nil
	})
	return err
}

func (p *Provider) defaultMethodLocked(customerID string) *domain.PaymentMethod {
	for _, pm := range p.paymentMethods {
		if pm.CustomerID == customerID && pm.IsDefault {
			return pm
		}
	}
	return nil
}

// ──────────────────────────────────────────────
// CHARGES
// ──────────────────────────────────────────────

func (p *Provider) Charge(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error) {
	params.Capture = true
	return p.createTransaction(ctx, "charge", params)
}

// Authorize reserves funds without capturing them.
func (p *Provider) Authorize(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error) {
	params.Capture = false
	return p.createTransaction(ctx, "authorize", params)
}

func (p *Provider) createTransaction(ctx context.Context, op string, params domain.ChargeParams) (*domain.Transaction, error) {
	fingerprint := idempotency.ChargeKey(params)
	params.IdempotencyKey = idempotency.ResolveCharge(params)

	return provider.Do(ctx, p.guard, op, func(ctx context.Context) (*domain.Transaction, error) {
		if err := params.Validate(); err != nil {
			return nil, providererr.Wrap(p.name, providererr.CodeInvalidRequest, err.Error(), err)
		}
		if !p.SupportsCurrency(params.Amount.Currency) {
			return nil, providererr.Newf(p.name, providererr.CodeUnsupportedCurrency, "%s is not supported", params.Amount.Currency)
		}
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if tx, ok, err := replayed[*domain.Transaction](p, params.IdempotencyKey, fingerprint); ok || err != nil {
			return cloneTransaction(tx), err
		}

		if _, ok := p.customers[params.CustomerID]; !ok {
			return nil, p.customerNotFound(params.CustomerID)
		}
		methodID := params.PaymentMethodID
		if methodID == "" {
			if pm := p.defaultMethodLocked(params.CustomerID); pm != nil {
				methodID = pm.ID
			}
		}
		if err := p.authorizeMethodLocked(params.CustomerID, methodID); err != nil {
			return nil, err
		}

		now := p.now()
		tx := &domain.Transaction{
			ID:              "pi_" + compactID(),
			Provider:        p.name,
			Amount:          params.Amount,
			Status:          domain.TransactionStatusSucceeded,
			CustomerID:      params.CustomerID,
			PaymentMethodID: methodID,
			IdempotencyKey:  params.IdempotencyKey,
			CreatedAt:       now,
		}
		tx.ProviderID = tx.ID
		if params.Capture {
			tx.CapturedAmount = params.Amount.Amount
			tx.CapturedAt = &now
		}
		p.transactions[tx.ID] = tx
		p.replays[params.IdempotencyKey] = replay{fingerprint: fingerprint, response: tx}
		return cloneTransaction(tx), nil
	})
}

func (p *Provider) authorizeMethodLocked(customerID, methodID string) error {
	if methodID == "" {
		return providererr.New(p.name, providererr.CodeInvalidPaymentMethod, "customer has no payment method")
	}
	token := methodID
	if pm, ok := p.paymentMethods[methodID]; ok {
		if pm.CustomerID != customerID {
			return providererr.Newf(p.name, providererr.CodeInvalidPaymentMethod, "payment method %s is not attached to customer", methodID)
		}
		token = p.methodTokens[methodID]
	} else if paymentMethodFromToken(methodID) == nil {
		return providererr.Newf(p.name, providererr.CodeInvalidPaymentMethod, "payment method %s is not attached to customer", methodID)
	}

	switch token {
	case TokenDeclined:
		return providererr.New(p.name, providererr.CodeCardDeclined, "your card was declined")
	case TokenInsufficientFunds:
		return providererr.New(p.name, providererr.CodeInsufficientFunds, "your card has insufficient funds")
	case TokenExpired:
		return providererr.New(p.name, providererr.CodeExpiredCard, "your card has expired")
	}
	return nil
}

// Capture settles an authorization, optionally for less than was authorized.
func (p *Provider) Capture(ctx context.Context, params domain.CaptureParams) (*domain.Transaction, error) {
	amount := ""
	if params.Amount != nil {
		amount = strconv.FormatInt(*params.Amount, 10)
	}
	key := idempotency.Resolve(params.IdempotencyKey, "capture", params.TransactionID, amount)
	fingerprint := idempotency.OperationKey("capture", params.TransactionID, amount)

	return provider.Do(ctx, p.guard, "capture", func(ctx context.Context) (*domain.Transaction, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if tx, ok, err := replayed[*domain.Transaction](p, key, fingerprint); ok || err != nil {
			return cloneTransaction(tx), err
		}

		tx, ok := p.transactions[params.TransactionID]
		if !ok {
			return nil, p.transactionNotFound(params.TransactionID)
		}
		if tx.Captured() || tx.Status != domain.TransactionStatusSucceeded {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidState, "transaction %s cannot be captured in status %s", tx.ID, tx.Status)
		}
		captured := tx.Amount.Amount
		if params.Amount != nil {
			captured = *params.Amount
		}
		if captured <= 0 || captured > tx.Amount.Amount {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidRequest, "capture amount must be between 1 and %d", tx.Amount.Amount)
		}

		now := p.now()
		tx.CapturedAmount = captured
		tx.CapturedAt = &now
		p.replays[key] = replay{fingerprint: fingerprint, response: tx}
		return cloneTransaction(tx), nil
	})
}

// Void cancels an uncaptured authorization.
func (p *Provider) Void(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return provider.Do(ctx, p.guard, "void", func(ctx context.Context) (*domain.Transaction, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		tx, ok := p.transactions[transactionID]
		if !ok {
			return nil, p.transactionNotFound(transactionID)
		}
		if tx.Status == domain.TransactionStatusCancelled {
			// Replayed void.
			return cloneTransaction(tx), nil
		}
		if !tx.CanVoid() {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidState, "transaction %s cannot be voided", tx.ID)
		}
		tx.Status = domain.TransactionStatusCancelled
		return cloneTransaction(tx), nil
	})
}

func (p *Provider) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return provider.Do(ctx, p.guard, "get_transaction", func(ctx context.Context) (*domain.Transaction, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		tx, ok := p.transactions[transactionID]
		if !ok {
			return nil, p.transactionNotFound(transactionID)
		}
		return cloneTransaction(tx), nil
	})
}

func (p *Provider) ListTransactions(ctx context.Context, params domain.ListTransactionsParams) ([]domain.Transaction, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return provider.Do(ctx, p.guard, "list_transactions", func(ctx context.Context) ([]domain.Transaction, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		out := []domain.Transaction{}
		for _, tx := range p.transactions {
			if params.CustomerID != "" && tx.CustomerID != params.CustomerID {
				continue
			}
			out = append(out, *cloneTransaction(tx))
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID > out[j].ID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
}

// ──────────────────────────────────────────────
// REFUNDS
// ──────────────────────────────────────────────

// Refund returns all or part of a captured transaction. A nil amount refunds
// whatever has not been refunded yet.
func (p *Provider) Refund(ctx context.Context, params domain.RefundParams) (*domain.Refund, error) {
	amount := ""
	if params.Amount != nil {
		amount = strconv.FormatInt(*params.Amount, 10)
	}
	key := idempotency.ResolveUnique(params.IdempotencyKey, "refund")
	fingerprint := idempotency.OperationKey("refund", params.TransactionID, amount, params.Reason)

	return provider.Do(ctx, p.guard, "refund", func(ctx context.Context) (*domain.Refund, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if r, ok, err := replayed[*domain.Refund](p, key, fingerprint); ok || err != nil {
			return cloneRefund(r), err
		}

		tx, ok := p.transactions[params.TransactionID]
		if !ok {
			return nil, p.transactionNotFound(params.TransactionID)
		}
		if !tx.Refundable() {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidState, "transaction %s is not refundable", tx.ID)
		}

		remaining := tx.CapturedAmount - p.refundedLocked(tx.ID)
		refunded := remaining
		if params.Amount != nil {
			refunded = *params.Amount
		}
		if refunded <= 0 || refunded > remaining {
			return nil, providererr.Newf(p.name, providererr.CodeInvalidRequest, "refund amount must be between 1 and %d", remaining)
		}

		r := &domain.Refund{
			ID:            "re_" + compactID(),
			TransactionID: tx.ID,
			Provider:      p.name,
			Amount:        domain.Money{Amount: refunded, Currency: tx.Amount.Currency},
			Status:        domain.RefundStatusSucceeded,
			Reason:        params.Reason,
			CreatedAt:     p.now(),
		}
		r.ProviderID = r.ID
		p.refunds[r.ID] = r
		p.replays[key] = replay{fingerprint: fingerprint, response: r}
		return cloneRefund(r), nil
	})
}

func (p *Provider) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	return provider.Do(ctx, p.guard, "get_refund", func(ctx context.Context) (*domain.Refund, error) {
		if err := p.upstream(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		r, ok := p.refunds[refundID]
		if !ok {
			return nil, providererr.Newf(p.name, providererr.CodeNotFound, "refund %s not found", refundID)
		}
		return cloneRefund(r), nil
	})
}

func (p *Provider) refundedLocked(transactionID string) int64 {
	var sum int64
	for _, r := range p.refunds {
		if r.TransactionID == transactionID && r.Status != domain.RefundStatusFailed {
			sum += r.Amount.Amount
		}
	}
	return sum
}

// ──────────────────────────────────────────────
// HELPERS
// ──────────────────────────────────────────────

// replayed returns the stored response for key. A key reused with a
// different request is rejected the way real processors do.
func replayed[T any](p *Provider, key, fingerprint string) (T, bool, error) {
	var zero T
	r, ok := p.replays[key]
	if !ok {
		return zero, false, nil
	}
	if r.fingerprint != fingerprint {
		return zero, false, providererr.New(p.name, providererr.CodeInvalidRequest, "idempotency key reused with different parameters")
	}
	v, ok := r.response.(T)
	if !ok {
		return zero, false, providererr.New(p.name, providererr.CodeInvalidRequest, "idempotency key reused for a different operation")
	}
	return v, true, nil
}

func (p *Provider) customerNotFound(id string) error {
	return providererr.Newf(p.name, providererr.CodeCustomerNotFound, "customer %s not found", id)
}

func (p *Provider) transactionNotFound(id string) error {
	return providererr.Newf(p.name, providererr.CodeNotFound, "transaction %s not found", id)
}

func paymentMethodFromToken(token string) *domain.PaymentMethod {
	card := func(brand, last4 string, year int) *domain.PaymentMethod {
		return &domain.PaymentMethod{
			ID:   token,
			Type: domain.PaymentMethodCard,
			Card: &domain.CardDetails{Brand: brand, Last4: last4, ExpMonth: 12, ExpYear: year},
		}
	}
	switch {
	case token == TokenVisa:
		return card("visa", "4242", 2034)
	case token == TokenMastercard:
		return card("mastercard", "4444", 2034)
	case token == TokenDeclined:
		return card("visa", "0002", 2034)
	case token == TokenInsufficientFunds:
		return card("visa", "9995", 2034)
	case token == TokenExpired:
		return card("visa", "0069", 2020)
	case strings.HasPrefix(token, "pm_bank_"):
		return &domain.PaymentMethod{ID: token, Type: domain.PaymentMethodBankAccount}
	case strings.HasPrefix(token, "pm_paypal_"):
		return &domain.PaymentMethod{ID: token, Type: domain.PaymentMethodPayPal}
	}
	return nil
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCustomer(c *domain.Customer) *domain.Customer {
	if c == nil {
		return nil
	}
	out := *c
	out.Metadata = copyMetadata(c.Metadata)
	return &out
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	if tx == nil {
		return nil
	}
	out := *tx
	if tx.CapturedAt != nil {
		at := *tx.CapturedAt
		out.CapturedAt = &at
	}
	return &out
}

func cloneRefund(r *domain.Refund) *domain.Refund {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
