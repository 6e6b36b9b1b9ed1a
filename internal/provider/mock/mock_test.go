package mock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"payments/internal/domain"
	"payments/internal/providererr"
	"payments/internal/resilience"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableErrors:   resilience.DefaultRetryPolicy().RetryableErrors,
	}
	cfg.Breaker = resilience.BreakerConfig{Threshold: 5, Timeout: time.Minute}
	return cfg
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// seedCustomer creates a customer with a default Visa card.
func seedCustomer(t *testing.T, p *Provider) string {
	t.Helper()
	ctx := context.Background()
	c, err := p.CreateCustomer(ctx, domain.CreateCustomerParams{Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	if _, err := p.AttachPaymentMethod(ctx, c.ID, TokenVisa); err != nil {
		t.Fatalf("AttachPaymentMethod() error = %v", err)
	}
	return c.ID
}

func gbp(amount int64) domain.Money {
	return domain.Money{Amount: amount, Currency: domain.CurrencyGBP}
}

func TestNew_RequiresWebhookSecret(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.WebhookSecret = ""
	_, err := New(cfg)
	if !providererr.IsCode(err, providererr.CodeConfiguration) {
		t.Fatalf("expected configuration_error, got %v", err)
	}
}

func TestCharge_SucceedsAfterTwoTransientFailures(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	before := p.Calls()

	p.FailNext(2, providererr.CodeNetwork)
	tx, err := p.Charge(context.Background(), domain.ChargeParams{
		Amount:     gbp(1000),
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if tx.Status != domain.TransactionStatusSucceeded {
		t.Errorf("expected succeeded, got %s", tx.Status)
	}
	if tx.Amount.Amount != 1000 || tx.Amount.Currency != domain.CurrencyGBP {
		t.Errorf("expected 1000 GBP, got %s", tx.Amount)
	}
	if got := p.Calls() - before; got != 3 {
		t.Errorf("expected 3 upstream attempts, got %d", got)
	}
	if p.BreakerState() != "closed" {
		t.Errorf("a recovered charge is one success for the breaker, got %s", p.BreakerState())
	}
}

func TestCharge_CircuitOpensAfterFiveFailures(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	customerID := seedCustomer(t, p)
	ctx := context.Background()
	params := domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID}

	p.SetHealthy(false)
	for i := 0; i < 5; i++ {
		_, err := p.Charge(ctx, params)
		if !providererr.IsCode(err, providererr.CodeServiceUnavailable) {
			t.Fatalf("charge %d: expected service_unavailable, got %v", i+1, err)
		}
	}

	before := p.Calls()
	_, err = p.Charge(ctx, params)
	if !providererr.IsCode(err, providererr.CodeCircuitOpen) {
		t.Fatalf("expected circuit_breaker_open, got %v", err)
	}
	if p.Calls() != before {
		t.Error("the sixth charge must not contact the upstream")
	}
}

func TestCharge_IdempotentReplay(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()
	params := domain.ChargeParams{Amount: gbp(2500), CustomerID: customerID}

	first, err := p.Charge(ctx, params)
	if err != nil {
		t.Fatalf("first Charge() error = %v", err)
	}
	second, err := p.Charge(ctx, params)
	if err != nil {
		t.Fatalf("second Charge() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("identical charges must resolve to one transaction, got %s and %s", first.ID, second.ID)
	}

	txs, err := p.ListTransactions(ctx, domain.ListTransactionsParams{CustomerID: customerID})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	params.IdempotencyKey = first.IdempotencyKey
	params.Amount = gbp(9999)
	if _, err := p.Charge(ctx, params); !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("reusing a key with a different amount must fail, got %v", err)
	}
}

func TestCharge_Declines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		token string
		code  providererr.Code
	}{
		{TokenDeclined, providererr.CodeCardDeclined},
		{TokenInsufficientFunds, providererr.CodeInsufficientFunds},
		{TokenExpired, providererr.CodeExpiredCard},
		{"pm_unknown", providererr.CodeInvalidPaymentMethod},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			p := newTestProvider(t)
			customerID := seedCustomer(t, p)
			before := p.Calls()

			_, err := p.Charge(context.Background(), domain.ChargeParams{
				Amount:          gbp(1000),
				CustomerID:      customerID,
				PaymentMethodID: tt.token,
			})
			if !providererr.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if providererr.IsRetriable(err) {
				t.Error("declines must not be retriable")
			}
			if p.Calls()-before != 1 {
				t.Errorf("declines must be attempted once, got %d", p.Calls()-before)
			}
		})
	}
}

func TestCharge_Validation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Currencies = []domain.Currency{domain.CurrencyGBP}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	_, err = p.Charge(ctx, domain.ChargeParams{Amount: domain.Money{Amount: 100, Currency: domain.CurrencyUSD}, CustomerID: customerID})
	if !providererr.IsCode(err, providererr.CodeUnsupportedCurrency) {
		t.Errorf("expected unsupported_currency, got %v", err)
	}
	_, err = p.Charge(ctx, domain.ChargeParams{Amount: gbp(-1), CustomerID: customerID})
	if !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("expected invalid_request, got %v", err)
	}
	_, err = p.Charge(ctx, domain.ChargeParams{Amount: gbp(100), CustomerID: "cus_missing"})
	if !providererr.IsCode(err, providererr.CodeCustomerNotFound) {
		t.Errorf("expected customer_not_found, got %v", err)
	}
}

func TestAuthorizeCaptureVoid(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	auth, err := p.Authorize(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if auth.Captured() {
		t.Fatal("authorization must not be captured")
	}

	over := int64(1500)
	if _, err := p.Capture(ctx, domain.CaptureParams{TransactionID: auth.ID, Amount: &over}); !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("capturing more than authorized must fail, got %v", err)
	}

	partial := int64(700)
	captured, err := p.Capture(ctx, domain.CaptureParams{TransactionID: auth.ID, Amount: &partial})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if captured.CapturedAmount != 700 || !captured.Captured() {
		t.Errorf("expected partial capture of 700, got %d", captured.CapturedAmount)
	}

	if _, err := p.Void(ctx, auth.ID); !providererr.IsCode(err, providererr.CodeInvalidState) {
		t.Errorf("voiding a captured transaction must fail, got %v", err)
	}

	second, err := p.Authorize(ctx, domain.ChargeParams{Amount: gbp(400), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	voided, err := p.Void(ctx, second.ID)
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if voided.Status != domain.TransactionStatusCancelled {
		t.Errorf("expected cancelled, got %s", voided.Status)
	}
	if _, err := p.Capture(ctx, domain.CaptureParams{TransactionID: second.ID}); !providererr.IsCode(err, providererr.CodeInvalidState) {
		t.Errorf("capturing a voided transaction must fail, got %v", err)
	}
}

func TestRefund_Partial(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	tx, err := p.Charge(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	five := int64(500)
	refund, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID, Amount: &five, Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if refund.Amount.Amount != 500 || refund.Amount.Amount >= tx.Amount.Amount {
		t.Errorf("expected refund of 500 below 1000, got %d", refund.Amount.Amount)
	}
	if refund.Status != domain.RefundStatusSucceeded {
		t.Errorf("expected succeeded refund, got %s", refund.Status)
	}

	got, err := p.GetRefund(ctx, refund.ID)
	if err != nil || got.TransactionID != tx.ID {
		t.Fatalf("GetRefund() = %+v, %v", got, err)
	}

	rest, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID})
	if err != nil {
		t.Fatalf("Refund() remainder error = %v", err)
	}
	if rest.Amount.Amount != 500 {
		t.Errorf("expected remaining 500, got %d", rest.Amount.Amount)
	}

	one := int64(1)
	if _, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID, Amount: &one}); !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("over-refund must fail, got %v", err)
	}
}

func TestRefund_RequiresCapture(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	auth, err := p.Authorize(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := p.Refund(ctx, domain.RefundParams{TransactionID: auth.ID}); !providererr.IsCode(err, providererr.CodeInvalidState) {
		t.Errorf("refunding an uncaptured authorization must fail, got %v", err)
	}
}

func TestRefund_RepeatedAmountsWithoutKeyAreDistinct(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	tx, err := p.Charge(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	half := int64(500)
	first, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID, Amount: &half})
	if err != nil {
		t.Fatalf("first Refund() error = %v", err)
	}
	second, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID, Amount: &half})
	if err != nil {
		t.Fatalf("second Refund() error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected two refunds, got %s twice", first.ID)
	}
	if _, err := p.Refund(ctx, domain.RefundParams{TransactionID: tx.ID, Amount: &half}); !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("a third refund must exceed the captured amount, got %v", err)
	}
}

func TestRefund_CallerKeyReplays(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	tx, err := p.Charge(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	half := int64(500)
	params := domain.RefundParams{TransactionID: tx.ID, Amount: &half, IdempotencyKey: "refund-1"}
	first, err := p.Refund(ctx, params)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	again, err := p.Refund(ctx, params)
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected replay of %s, got %+v, %v", first.ID, again, err)
	}

	other := int64(100)
	params.Amount = &other
	if _, err := p.Refund(ctx, params); !providererr.IsCode(err, providererr.CodeInvalidRequest) {
		t.Errorf("a reused key with a different amount must fail, got %v", err)
	}
}

func TestPaymentMethods(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	visa, err := p.ListPaymentMethods(ctx, customerID)
	if err != nil || len(visa) != 1 {
		t.Fatalf("expected the seeded card, got %v, %v", visa, err)
	}
	mastercard, err := p.AttachPaymentMethod(ctx, customerID, TokenMastercard)
	if err != nil {
		t.Fatalf("AttachPaymentMethod() error = %v", err)
	}
	if mastercard.ID == TokenMastercard || mastercard.Card == nil || mastercard.Card.Last4 != "4444" {
		t.Errorf("unexpected payment method %+v", mastercard)
	}
	if err := p.SetDefaultPaymentMethod(ctx, customerID, mastercard.ID); err != nil {
		t.Fatalf("SetDefaultPaymentMethod() error = %v", err)
	}

	methods, err := p.ListPaymentMethods(ctx, customerID)
	if err != nil {
		t.Fatalf("ListPaymentMethods() error = %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(methods))
	}
	for _, m := range methods {
		if m.IsDefault != (m.ID == mastercard.ID) {
			t.Errorf("unexpected default flag on %s: %v", m.ID, m.IsDefault)
		}
	}

	if err := p.DetachPaymentMethod(ctx, visa[0].ID); err != nil {
		t.Fatalf("DetachPaymentMethod() error = %v", err)
	}
	if err := p.DetachPaymentMethod(ctx, visa[0].ID); !providererr.IsCode(err, providererr.CodeNotFound) {
		t.Errorf("expected resource_not_found, got %v", err)
	}
}

func TestPaymentMethods_TokenAttachesToEachCustomer(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()

	a := seedCustomer(t, p)
	b, err := p.CreateCustomer(ctx, domain.CreateCustomerParams{Email: "b@example.com"})
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	pm, err := p.AttachPaymentMethod(ctx, b.ID, TokenVisa)
	if err != nil {
		t.Fatalf("attach to second customer: %v", err)
	}

	if _, err := p.Charge(ctx, domain.ChargeParams{Amount: gbp(100), CustomerID: a, PaymentMethodID: pm.ID}); !providererr.IsCode(err, providererr.CodeInvalidPaymentMethod) {
		t.Errorf("charging another customer's method must fail, got %v", err)
	}
	tx, err := p.Charge(ctx, domain.ChargeParams{Amount: gbp(100), CustomerID: b.ID})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if tx.PaymentMethodID != pm.ID {
		t.Errorf("expected %s, got %s", pm.ID, tx.PaymentMethodID)
	}
}

func TestPaymentMethods_AttachedDeclineTokenStillDeclines(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()
	customerID := seedCustomer(t, p)

	pm, err := p.AttachPaymentMethod(ctx, customerID, TokenDeclined)
	if err != nil {
		t.Fatalf("AttachPaymentMethod() error = %v", err)
	}
	_, err = p.Charge(ctx, domain.ChargeParams{Amount: gbp(100), CustomerID: customerID, PaymentMethodID: pm.ID})
	if !providererr.IsCode(err, providererr.CodeCardDeclined) {
		t.Errorf("expected card_declined, got %v", err)
	}
}

func TestCustomers(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()

	c, err := p.CreateCustomer(ctx, domain.CreateCustomerParams{
		Email:    "grace@example.com",
		Metadata: map[string]string{"tier": "gold"},
	})
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}

	name := "Grace"
	updated, err := p.UpdateCustomer(ctx, c.ID, domain.UpdateCustomerParams{
		Name:     &name,
		Metadata: map[string]string{"tier": ""},
	})
	if err != nil {
		t.Fatalf("UpdateCustomer() error = %v", err)
	}
	if updated.Name != "Grace" || updated.Email != "grace@example.com" {
		t.Errorf("unexpected customer after update: %+v", updated)
	}
	if _, ok := updated.Metadata["tier"]; ok {
		t.Error("empty metadata values must unset keys")
	}

	if err := p.DeleteCustomer(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCustomer() error = %v", err)
	}
	if _, err := p.GetCustomer(ctx, c.ID); !providererr.IsCode(err, providererr.CodeCustomerNotFound) {
		t.Errorf("expected customer_not_found, got %v", err)
	}
}

func TestCustomers_RecreateAfterDelete(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()
	params := domain.CreateCustomerParams{Email: "ada@example.com", Name: "Ada"}

	first, err := p.CreateCustomer(ctx, params)
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	if err := p.DeleteCustomer(ctx, first.ID); err != nil {
		t.Fatalf("DeleteCustomer() error = %v", err)
	}

	second, err := p.CreateCustomer(ctx, params)
	if err != nil {
		t.Fatalf("CreateCustomer() after delete error = %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new customer, got the deleted %s", first.ID)
	}
	if _, err := p.GetCustomer(ctx, second.ID); err != nil {
		t.Errorf("GetCustomer() on the new customer error = %v", err)
	}
}

func TestCustomers_CallerKeyReplays(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()
	params := domain.CreateCustomerParams{Email: "ada@example.com", Name: "Ada", IdempotencyKey: "signup-1"}

	first, err := p.CreateCustomer(ctx, params)
	if err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	again, err := p.CreateCustomer(ctx, params)
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected replay of %s, got %+v, %v", first.ID, again, err)
	}

	params.IdempotencyKey = ""
	twin, err := p.CreateCustomer(ctx, params)
	if err != nil {
		t.Fatalf("CreateCustomer() without key error = %v", err)
	}
	if twin.ID == first.ID {
		t.Error("customers sharing an email and name must stay distinct without a caller key")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	ctx := context.Background()

	if err := p.HealthCheck(ctx); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	p.SetHealthy(false)
	before := p.Calls()
	if err := p.HealthCheck(ctx); err == nil {
		t.Fatal("expected unhealthy")
	}
	if p.Calls()-before != 1 {
		t.Error("health checks must not be retried")
	}
}

func TestMetrics_OneSamplePerOperation(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	base := p.Metrics().TotalRequests

	p.FailNext(2, providererr.CodeTimeout)
	if _, err := p.Charge(context.Background(), domain.ChargeParams{Amount: gbp(100), CustomerID: customerID}); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if got := p.Metrics().TotalRequests - base; got != 1 {
		t.Errorf("retries are one logical operation; expected 1 sample, got %d", got)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)

	payloads := [][]byte{
		[]byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`),
		[]byte(`not json at all`),
		nil,
	}
	for _, payload := range payloads {
		for _, sig := range []string{"", "deadbeef", p.Sign([]byte("other"))} {
			_, err := p.ConstructWebhookEvent(payload, sig)
			if !providererr.IsCode(err, providererr.CodeWebhookSignature) {
				t.Errorf("payload %q sig %q: expected webhook_signature_invalid, got %v", payload, sig, err)
			}
		}
	}
}

func TestWebhook_AppliesStatusUpdate(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	customerID := seedCustomer(t, p)
	ctx := context.Background()

	auth, err := p.Authorize(ctx, domain.ChargeParams{Amount: gbp(1000), CustomerID: customerID})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"id":      "evt_123",
		"type":    domain.EventPaymentCanceled,
		"created": time.Now().Unix(),
		"data":    map[string]any{"transaction_id": auth.ID},
	})
	event, err := p.ConstructWebhookEvent(payload, p.Sign(payload))
	if err != nil {
		t.Fatalf("ConstructWebhookEvent() error = %v", err)
	}
	if event.ID != "evt_123" || event.Type != domain.EventPaymentCanceled {
		t.Fatalf("unexpected event %+v", event)
	}

	res, err := p.HandleWebhook(ctx, event)
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if !res.Processed || res.Update == nil || res.Update.Status != domain.TransactionStatusCancelled {
		t.Fatalf("unexpected result %+v", res)
	}

	tx, err := p.GetTransaction(ctx, auth.ID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if tx.Status != domain.TransactionStatusCancelled {
		t.Errorf("expected cancelled, got %s", tx.Status)
	}
}

func TestWebhook_UnknownTypeIgnored(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t)
	payload := []byte(`{"id":"evt_9","type":"customer.created","created":1700000000,"data":{}}`)
	event, err := p.ConstructWebhookEvent(payload, p.Sign(payload))
	if err != nil {
		t.Fatalf("ConstructWebhookEvent() error = %v", err)
	}
	res, err := p.HandleWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if res.Processed {
		t.Error("unknown event types are acknowledged but not processed")
	}
}
