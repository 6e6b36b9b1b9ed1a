// Package stripe implements the payment provider on top of the Stripe API.
package stripe

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/idempotency"
	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/resilience"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

var _ provider.Provider = (*Provider)(nil)

// Config configures the Stripe provider.
type Config struct {
	Name          string
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint, e.g. for stripe-mock.
	BaseURL    string
	HTTPClient *http.Client
	Currencies []domain.Currency
	Retry      resilience.RetryPolicy
	Breaker    resilience.BreakerConfig
	Recorder   provider.Recorder
	Tracer     trace.Tracer
	Logger     *zap.Logger
	Clock      resilience.Clock
}

// Provider talks to Stripe through PaymentIntents, Refunds, Customers and
// PaymentMethods.
type Provider struct {
	name          string
	sc            *client.API
	webhookSecret string
	currencies    []domain.Currency
	guard         *provider.Guard
	now           func() time.Time
}

// New validates credentials and builds a Stripe client. The SDK's own
// network retries are disabled; retries belong to the guard.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = string(provider.TypeStripe)
	}
	if cfg.SecretKey == "" {
		return nil, providererr.New(cfg.Name, providererr.CodeConfiguration, "stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, providererr.New(cfg.Name, providererr.CodeConfiguration, "stripe webhook secret is required")
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
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Provider{
		name:          cfg.Name,
		webhookSecret: cfg.WebhookSecret,
		currencies:    cfg.Currencies,
		now:           time.Now,
	}
	if cfg.Clock != nil {
		p.now = cfg.Clock.Now
	}

	guard, err := provider.NewGuard(provider.GuardConfig{
		Name:     cfg.Name,
		Retry:    cfg.Retry,
		Breaker:  cfg.Breaker,
		Recorder: cfg.Recorder,
		Tracer:   cfg.Tracer,
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
		MapError: p.mapError,
	})
	if err != nil {
		return nil, err
	}
	p.guard = guard

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     cfg.Logger.Named("stripe").Sugar(),
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	p.sc = client.New(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return p, nil
}

func (p *Provider) Name() string                           { return p.name }
func (p *Provider) Type() provider.Type                    { return provider.TypeStripe }
func (p *Provider) SupportedCurrencies() []domain.Currency { return p.currencies }
func (p *Provider) SignatureHeader() string                { return SignatureHeader }
func (p *Provider) Metrics() provider.Snapshot             { return p.guard.Snapshot() }
func (p *Provider) BreakerState() string                   { return p.guard.Breaker().State().String() }
func (p *Provider) ResetBreaker()                          { p.guard.Breaker().Reset() }

func (p *Provider) SupportsCurrency(c domain.Currency) bool {
	return provider.SupportsCurrency(p.currencies, c)
}

// HealthCheck reads the account balance, the cheapest authenticated call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := provider.DoOnce(ctx, p.guard, "health_check", func(ctx context.Context) (*stripe.Balance, error) {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		return p.sc.Balance.Get(params)
	})
	return err
}

// ──────────────────────────────────────────────
// CUSTOMERS
// ──────────────────────────────────────────────

func (p *Provider) CreateCustomer(ctx context.Context, in domain.CreateCustomerParams) (*domain.Customer, error) {
	key := idempotency.ResolveUnique(in.IdempotencyKey, "customer.create")

	return provider.Do(ctx, p.guard, "create_customer", func(ctx context.Context) (*domain.Customer, error) {
		params := &stripe.CustomerParams{Email: stripe.String(in.Email)}
		if in.Name != "" {
			params.Name = stripe.String(in.Name)
		}
		if len(in.Metadata) > 0 {
			params.Metadata = in.Metadata
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(key)

		c, err := p.sc.Customers.New(params)
		if err != nil {
			return nil, err
		}
		return p.toCustomer(c), nil
	})
}

func (p *Provider) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	return provider.Do(ctx, p.guard, "get_customer", func(ctx context.Context) (*domain.Customer, error) {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		c, err := p.sc.Customers.Get(customerID, params)
		if err != nil {
			return nil, err
		}
		if c.Deleted {
			return nil, providererr.Newf(p.name, providererr.CodeCustomerNotFound, "customer %s was deleted", customerID)
		}
		return p.toCustomer(c), nil
	})
}

// UpdateCustomer sends only the fields that are set. Stripe applies metadata
// as a merge and unsets keys with empty values.
func (p *Provider) UpdateCustomer(ctx context.Context, customerID string, in domain.UpdateCustomerParams) (*domain.Customer, error) {
	return provider.Do(ctx, p.guard, "update_customer", func(ctx context.Context) (*domain.Customer, error) {
		params := &stripe.CustomerParams{
			Email: in.Email,
			Name:  in.Name,
		}
		if in.Metadata != nil {
			params.Metadata = in.Metadata
		}
		params.Context = ctx

		c, err := p.sc.Customers.Update(customerID, params)
		if err != nil {
			return nil, err
		}
		return p.toCustomer(c), nil
	})
}

func (p *Provider) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := provider.Do(ctx, p.guard, "delete_customer", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		return p.sc.Customers.Del(customerID, params)
	})
	return err
}

// ──────────────────────────────────────────────
// PAYMENT METHODS
// ──────────────────────────────────────────────

func (p *Provider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*domain.PaymentMethod, error) {
	key := idempotency.OperationKey("payment_method.attach", customerID, paymentMethodID)

	return provider.Do(ctx, p.guard, "attach_payment_method", func(ctx context.Context) (*domain.PaymentMethod, error) {
		params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(key)

		pm, err := p.sc.PaymentMethods.Attach(paymentMethodID, params)
		if err != nil {
			return nil, err
		}
		return toPaymentMethod(pm, ""), nil
	})
}

func (p *Provider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := provider.Do(ctx, p.guard, "detach_payment_method", func(ctx context.Context) (*stripe.PaymentMethod, error) {
		params := &stripe.PaymentMethodDetachParams{}
		params.Context = ctx
		return p.sc.PaymentMethods.Detach(paymentMethodID, params)
	})
	return err
}

// ListPaymentMethods marks the customer's invoice default.
func (p *Provider) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	return provider.Do(ctx, p.guard, "list_payment_methods", func(ctx context.Context) ([]domain.PaymentMethod, error) {
		cparams := &stripe.CustomerParams{}
		cparams.Context = ctx
		c, err := p.sc.Customers.Get(customerID, cparams)
		if err != nil {
			return nil, err
		}
		defaultID := ""
		if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
			defaultID = c.InvoiceSettings.DefaultPaymentMethod.ID
		}

		params := &stripe.PaymentMethodListParams{Customer: stripe.String(customerID)}
		params.Context = ctx
		iter := p.sc.PaymentMethods.List(params)

		out := []domain.PaymentMethod{}
		for iter.Next() {
			out = append(out, *toPaymentMethod(iter.PaymentMethod(), defaultID))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (p *Provider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := provider.Do(ctx, p.guard, "set_default_payment_method", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentMethodID),
			},
		}
		params.Context = ctx
		return p.sc.Customers.Update(customerID, params)
	})
	return err
}

// ──────────────────────────────────────────────
// CHARGES
// ──────────────────────────────────────────────

func (p *Provider) Charge(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error) {
	params.Capture = true
	return p.createPaymentIntent(ctx, "charge", params)
}

// Authorize creates a PaymentIntent with manual capture.
func (p *Provider) Authorize(ctx context.Context, params domain.ChargeParams) (*domain.Transaction, error) {
	params.Capture = false
	return p.createPaymentIntent(ctx, "authorize", params)
}

func (p *Provider) createPaymentIntent(ctx context.Context, op string, in domain.ChargeParams) (*domain.Transaction, error) {
	in.IdempotencyKey = idempotency.ResolveCharge(in)

	return provider.Do(ctx, p.guard, op, func(ctx context.Context) (*domain.Transaction, error) {
		if err := in.Validate(); err != nil {
			return nil, providererr.Wrap(p.name, providererr.CodeInvalidRequest, err.Error(), err)
		}
		if !p.SupportsCurrency(in.Amount.Currency) {
			return nil, providererr.Newf(p.name, providererr.CodeUnsupportedCurrency, "%s is not supported", in.Amount.Currency)
		}

		params := &stripe.PaymentIntentParams{
			Amount:     stripe.Int64(in.Amount.Amount),
			Currency:   stripe.String(in.Amount.Currency.Lower()),
			Customer:   stripe.String(in.CustomerID),
			Confirm:    stripe.Bool(true),
			OffSession: stripe.Bool(true),
		}
		if in.PaymentMethodID != "" {
			params.PaymentMethod = stripe.String(in.PaymentMethodID)
		}
		if in.Description != "" {
			params.Description = stripe.String(in.Description)
		}
		if !in.Capture {
			params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		}
		if len(in.Metadata) > 0 {
			params.Metadata = make(map[string]string, len(in.Metadata))
			for k, v := range in.Metadata {
				params.Metadata[k] = v
			}
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)

		pi, err := p.sc.PaymentIntents.New(params)
		if err != nil {
			return nil, err
		}
		tx := p.toTransaction(pi)
		tx.IdempotencyKey = in.IdempotencyKey
		return tx, nil
	})
}

// Capture settles a manual-capture PaymentIntent. A smaller amount releases
// the rest of the authorization.
func (p *Provider) Capture(ctx context.Context, in domain.CaptureParams) (*domain.Transaction, error) {
	amount := ""
	if in.Amount != nil {
		amount = strconv.FormatInt(*in.Amount, 10)
	}
	key := idempotency.Resolve(in.IdempotencyKey, "capture", in.TransactionID, amount)

	return provider.Do(ctx, p.guard, "capture", func(ctx context.Context) (*domain.Transaction, error) {
		params := &stripe.PaymentIntentCaptureParams{}
		if in.Amount != nil {
			params.AmountToCapture = stripe.Int64(*in.Amount)
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(key)

		pi, err := p.sc.PaymentIntents.Capture(in.TransactionID, params)
		if err != nil {
			return nil, err
		}
		return p.toTransaction(pi), nil
	})
}

func (p *Provider) Void(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	key := idempotency.OperationKey("void", transactionID)

	return provider.Do(ctx, p.guard, "void", func(ctx context.Context) (*domain.Transaction, error) {
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(key)

		pi, err := p.sc.PaymentIntents.Cancel(transactionID, params)
		if err != nil {
			return nil, err
		}
		return p.toTransaction(pi), nil
	})
}

func (p *Provider) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return provider.Do(ctx, p.guard, "get_transaction", func(ctx context.Context) (*domain.Transaction, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := p.sc.PaymentIntents.Get(transactionID, params)
		if err != nil {
			return nil, err
		}
		return p.toTransaction(pi), nil
	})
}

func (p *Provider) ListTransactions(ctx context.Context, in domain.ListTransactionsParams) ([]domain.Transaction, error) {
	limit := in.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return provider.Do(ctx, p.guard, "list_transactions", func(ctx context.Context) ([]domain.Transaction, error) {
		params := &stripe.PaymentIntentListParams{}
		if in.CustomerID != "" {
			params.Customer = stripe.String(in.CustomerID)
		}
		params.Limit = stripe.Int64(int64(limit))
		params.Context = ctx

		iter := p.sc.PaymentIntents.List(params)
		out := []domain.Transaction{}
		for len(out) < limit && iter.Next() {
			out = append(out, *p.toTransaction(iter.PaymentIntent()))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// ──────────────────────────────────────────────
// REFUNDS
// ──────────────────────────────────────────────

var refundReasons = map[string]bool{
	string(stripe.RefundReasonDuplicate):           true,
	string(stripe.RefundReasonFraudulent):          true,
	string(stripe.RefundReasonRequestedByCustomer): true,
}

// Refund refunds a PaymentIntent. Free-form reasons Stripe does not accept
// are kept in metadata.
func (p *Provider) Refund(ctx context.Context, in domain.RefundParams) (*domain.Refund, error) {
	key := idempotency.ResolveUnique(in.IdempotencyKey, "refund")

	return provider.Do(ctx, p.guard, "refund", func(ctx context.Context) (*domain.Refund, error) {
		if in.Amount != nil && *in.Amount <= 0 {
			return nil, providererr.New(p.name, providererr.CodeInvalidRequest, "refund amount must be positive")
		}
		params := &stripe.RefundParams{PaymentIntent: stripe.String(in.TransactionID)}
		if in.Amount != nil {
			params.Amount = stripe.Int64(*in.Amount)
		}
		switch {
		case refundReasons[in.Reason]:
			params.Reason = stripe.String(in.Reason)
		case in.Reason != "":
			params.Metadata = map[string]string{"reason": in.Reason}
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(key)

		r, err := p.sc.Refunds.New(params)
		if err != nil {
			return nil, err
		}
		out := p.toRefund(r)
		if out.Reason == "" {
			out.Reason = in.Reason
		}
		return out, nil
	})
}

func (p *Provider) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	return provider.Do(ctx, p.guard, "get_refund", func(ctx context.Context) (*domain.Refund, error) {
		params := &stripe.RefundParams{}
		params.Context = ctx
		r, err := p.sc.Refunds.Get(refundID, params)
		if err != nil {
			return nil, err
		}
		return p.toRefund(r), nil
	})
}

// ──────────────────────────────────────────────
// CONVERSIONS
// ──────────────────────────────────────────────

func (p *Provider) toCustomer(c *stripe.Customer) *domain.Customer {
	return &domain.Customer{
		ID:        c.ID,
		Provider:  p.name,
		Email:     c.Email,
		Name:      c.Name,
		Metadata:  c.Metadata,
		CreatedAt: time.Unix(c.Created, 0).UTC(),
	}
}

func toPaymentMethod(pm *stripe.PaymentMethod, defaultID string) *domain.PaymentMethod {
	out := &domain.PaymentMethod{
		ID:        pm.ID,
		IsDefault: pm.ID != "" && pm.ID == defaultID,
	}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	switch string(pm.Type) {
	case "card":
		out.Type = domain.PaymentMethodCard
	case "paypal":
		out.Type = domain.PaymentMethodPayPal
	default:
		out.Type = domain.PaymentMethodBankAccount
	}
	if pm.Card != nil {
		out.Card = &domain.CardDetails{
			Last4:    pm.Card.Last4,
			Brand:    string(pm.Card.Brand),
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}
	}
	return out
}

// transactionStatus maps a PaymentIntent status. An intent that needs a new
// payment method after an attempt has failed; before any attempt it is
// still pending.
func transactionStatus(pi *stripe.PaymentIntent) domain.TransactionStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		return domain.TransactionStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return domain.TransactionStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return domain.TransactionStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return domain.TransactionStatusFailed
		}
	}
	return domain.TransactionStatusPending
}

func (p *Provider) toTransaction(pi *stripe.PaymentIntent) *domain.Transaction {
	tx := &domain.Transaction{
		ID:             pi.ID,
		ProviderID:     pi.ID,
		Provider:       p.name,
		Amount:         domain.Money{Amount: pi.Amount, Currency: domain.Currency(strings.ToUpper(string(pi.Currency)))},
		CapturedAmount: pi.AmountReceived,
		Status:         transactionStatus(pi),
		CreatedAt:      time.Unix(pi.Created, 0).UTC(),
	}
	if pi.Customer != nil {
		tx.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		tx.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.AmountReceived > 0 {
		// Stripe does not expose a capture timestamp on the intent.
		at := p.now().UTC()
		tx.CapturedAt = &at
	}
	if pi.LastPaymentError != nil {
		tx.FailureCode = string(pi.LastPaymentError.Code)
		tx.FailureMessage = pi.LastPaymentError.Msg
	}
	return tx
}

func (p *Provider) toRefund(r *stripe.Refund) *domain.Refund {
	out := &domain.Refund{
		ID:         r.ID,
		ProviderID: r.ID,
		Provider:   p.name,
		Amount:     domain.Money{Amount: r.Amount, Currency: domain.Currency(strings.ToUpper(string(r.Currency)))},
		Reason:     string(r.Reason),
		CreatedAt:  time.Unix(r.Created, 0).UTC(),
	}
	if r.PaymentIntent != nil {
		out.TransactionID = r.PaymentIntent.ID
	}
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		out.Status = domain.RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		out.Status = domain.RefundStatusFailed
	default:
		out.Status = domain.RefundStatusPending
	}
	return out
}
