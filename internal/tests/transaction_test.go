package tests

import (
	"context"
	"errors"
	"testing"

	"payments/internal/domain"
	"payments/internal/events"
	"payments/internal/provider"
	"payments/internal/provider/mock"
	"payments/internal/providererr"
	"payments/internal/service"
)

// ──────────────────────────────────────────────
// 3. CHARGES
// ──────────────────────────────────────────────

func TestCharge_RecordsTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{
		Amount:     gbp(2500),
		CustomerID: c.ID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.Status != domain.TransactionStatusSucceeded || !tx.Captured() {
		t.Errorf("expected captured succeeded transaction, got status=%s captured=%v", tx.Status, tx.Captured())
	}
	if tx.CapturedAmount != 2500 {
		t.Errorf("expected captured amount 2500, got %d", tx.CapturedAmount)
	}
	if tx.Provider != string(provider.TypeMock) {
		t.Errorf("expected provider mock, got %s", tx.Provider)
	}
	if tx.ID == "" || tx.ID == tx.ProviderID {
		t.Errorf("expected a local id distinct from provider id %q, got %q", tx.ProviderID, tx.ID)
	}
	methods, err := h.customers.ListPaymentMethods(ctx, c.ID)
	if err != nil {
		t.Fatalf("list payment methods: %v", err)
	}
	if len(methods) != 1 || tx.PaymentMethodID != methods[0].ID {
		t.Errorf("expected default payment method %+v, got %q", methods, tx.PaymentMethodID)
	}

	stored := h.txRepo.GetTransaction(tx.ID)
	if stored == nil || stored.IdempotencyKey == "" {
		t.Fatalf("expected recorded transaction with idempotency key, got %+v", stored)
	}
	if got := h.publisher.Types(); len(got) != 1 || got[0] != events.TypeTransactionCreated {
		t.Errorf("expected one created event, got %v", got)
	}
}

func TestCharge_ReplayReturnsRecordedTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	req := service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID, PaymentMethodID: mock.TokenVisa}
	first, err := h.transactions.Charge(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := h.provider.Calls()

	second, err := h.transactions.Charge(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected replay to return %s, got %s", first.ID, second.ID)
	}
	if h.provider.Calls() != calls {
		t.Errorf("expected replay not to reach the provider")
	}
	if h.txRepo.CreateCallCount != 1 {
		t.Errorf("expected 1 create, got %d", h.txRepo.CreateCallCount)
	}
}

func TestCharge_ChargeAndAuthorizeDeriveDifferentKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	req := service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID, PaymentMethodID: mock.TokenVisa}
	charged, err := h.transactions.Charge(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	authorized, err := h.transactions.Authorize(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if charged.ID == authorized.ID || charged.IdempotencyKey == authorized.IdempotencyKey {
		t.Error("expected charge and authorization to be distinct transactions")
	}
}

func TestCharge_ReusedKeyWithDifferentRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	if _, err := h.transactions.Charge(ctx, service.ChargeRequest{
		Amount: gbp(1000), CustomerID: c.ID, IdempotencyKey: "order-42",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := h.transactions.Charge(ctx, service.ChargeRequest{
		Amount: gbp(2000), CustomerID: c.ID, IdempotencyKey: "order-42",
	})
	if !errors.Is(err, service.ErrIdempotencyKeyReused) {
		t.Errorf("expected ErrIdempotencyKeyReused, got %v", err)
	}
}

func TestCharge_Declines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		code  providererr.Code
	}{
		{"declined", mock.TokenDeclined, providererr.CodeCardDeclined},
		{"insufficient funds", mock.TokenInsufficientFunds, providererr.CodeInsufficientFunds},
		{"expired", mock.TokenExpired, providererr.CodeExpiredCard},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			c := h.customer(t)

			_, err := h.transactions.Charge(context.Background(), service.ChargeRequest{
				Amount: gbp(1000), CustomerID: c.ID, PaymentMethodID: tt.token,
			})
			if !providererr.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
			if h.txRepo.CountTransactions() != 0 {
				t.Error("declined charges must not be recorded")
			}
			if h.provider.BreakerState() != "closed" {
				t.Errorf("declines must not trip the breaker, got %s", h.provider.BreakerState())
			}
		})
	}
}

func TestCharge_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     service.ChargeRequest
		wantErr error
	}{
		{"missing customer", service.ChargeRequest{Amount: gbp(100)}, service.ErrInvalidCustomerID},
		{"zero amount", service.ChargeRequest{Amount: gbp(0), CustomerID: "cus_1"}, service.ErrInvalidAmount},
		{"negative amount", service.ChargeRequest{Amount: gbp(-5), CustomerID: "cus_1"}, domain.ErrNegativeAmount},
		{"unsupported currency", service.ChargeRequest{Amount: domain.Money{Amount: 100, Currency: "JPY"}, CustomerID: "cus_1"}, domain.ErrUnsupportedCurrency},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_, err := h.transactions.Charge(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if h.provider.Calls() != 0 {
				t.Error("invalid requests must not reach the provider")
			}
		})
	}
}

func TestCharge_RecordFailureIsReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.customer(t)
	h.txRepo.CreateError = ErrInjected

	_, err := h.transactions.Charge(context.Background(), service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if !errors.Is(err, ErrInjected) {
		t.Errorf("expected record error, got %v", err)
	}
}

func TestCharge_PublishFailureDoesNotFailCharge(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := h.customer(t)
	h.publisher.PublishError = ErrInjected

	if _, err := h.transactions.Charge(context.Background(), service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID}); err != nil {
		t.Errorf("expected charge to succeed, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 4. AUTHORIZE, CAPTURE, VOID
// ──────────────────────────────────────────────

func TestAuthorize_CaptureThenRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	auth, err := h.transactions.Authorize(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}
	if auth.Captured() || auth.Status != domain.TransactionStatusSucceeded {
		t.Fatalf("expected uncaptured authorization, got %+v", auth)
	}

	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: auth.ID}); !errors.Is(err, service.ErrTransactionNotRefundable) {
		t.Errorf("expected ErrTransactionNotRefundable before capture, got %v", err)
	}

	captured, err := h.transactions.Capture(ctx, service.CaptureRequest{TransactionID: auth.ID, Amount: int64Ptr(600)})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if captured.CapturedAmount != 600 || !captured.Captured() {
		t.Errorf("expected 600 captured, got %d", captured.CapturedAmount)
	}
	if _, err := h.transactions.Capture(ctx, service.CaptureRequest{TransactionID: auth.ID}); !errors.Is(err, service.ErrTransactionNotCapturable) {
		t.Errorf("expected ErrTransactionNotCapturable on second capture, got %v", err)
	}
	if _, err := h.transactions.Void(ctx, auth.ID); !errors.Is(err, service.ErrTransactionNotVoidable) {
		t.Errorf("expected ErrTransactionNotVoidable after capture, got %v", err)
	}

	refund, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: auth.ID, Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Amount.Amount != 600 || refund.TransactionID != auth.ID {
		t.Errorf("expected full 600 refund against %s, got %+v", auth.ID, refund)
	}

	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: auth.ID}); !errors.Is(err, service.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount once fully refunded, got %v", err)
	}

	want := []string{events.TypeTransactionCreated, events.TypeTransactionUpdated, events.TypeRefundCreated}
	got := h.publisher.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCapture_AmountOutOfRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	auth, err := h.transactions.Authorize(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}
	for _, amount := range []int64{0, -1, 1001} {
		_, err := h.transactions.Capture(ctx, service.CaptureRequest{TransactionID: auth.ID, Amount: int64Ptr(amount)})
		if !errors.Is(err, service.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestVoid_CancelsAuthorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	auth, err := h.transactions.Authorize(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}

	voided, err := h.transactions.Void(ctx, auth.ID)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != domain.TransactionStatusCancelled {
		t.Errorf("expected cancelled, got %s", voided.Status)
	}
	if h.txRepo.GetTransaction(auth.ID).Status != domain.TransactionStatusCancelled {
		t.Error("expected cancelled status to be persisted")
	}

	if _, err := h.transactions.Void(ctx, auth.ID); !errors.Is(err, service.ErrTransactionNotVoidable) {
		t.Errorf("expected ErrTransactionNotVoidable, got %v", err)
	}
	if _, err := h.transactions.Capture(ctx, service.CaptureRequest{TransactionID: auth.ID}); !errors.Is(err, service.ErrTransactionNotCapturable) {
		t.Errorf("expected ErrTransactionNotCapturable, got %v", err)
	}
}

func TestGet_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if _, err := h.transactions.Get(context.Background(), ""); !errors.Is(err, service.ErrInvalidTransactionID) {
		t.Errorf("expected ErrInvalidTransactionID, got %v", err)
	}
	if _, err := h.transactions.Get(context.Background(), "missing"); !errors.Is(err, service.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 5. REFUNDS
// ──────────────────────────────────────────────

func TestRefund_PartialRefundsCannotExceedCaptured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(300)}); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(800)}); !errors.Is(err, service.ErrRefundExceedsCaptured) {
		t.Errorf("expected ErrRefundExceedsCaptured, got %v", err)
	}
	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(700)}); err != nil {
		t.Fatalf("second refund: %v", err)
	}

	refunds, err := h.transactions.ListRefunds(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, r := range refunds {
		total += r.Amount.Amount
	}
	if len(refunds) != 2 || total != 1000 {
		t.Errorf("expected 2 refunds totalling 1000, got %d totalling %d", len(refunds), total)
	}
}

func TestRefund_FailedRefundsDoNotCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}
	h.refundRepo.AddRefund(&domain.Refund{
		ID:            "re_failed",
		TransactionID: tx.ID,
		Provider:      tx.Provider,
		Amount:        gbp(1000),
		Status:        domain.RefundStatusFailed,
	})

	refund, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.Amount.Amount != 1000 {
		t.Errorf("expected 1000 refunded, got %d", refund.Amount.Amount)
	}
}

func TestRefund_EqualPartialRefundsAreSeparate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}

	first, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(500)})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	second, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(500)})
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if first.ProviderID == second.ProviderID {
		t.Errorf("expected two provider refunds, both are %s", first.ProviderID)
	}
	if n := h.refundRepo.CountRefunds(); n != 2 {
		t.Errorf("expected 2 recorded refunds, got %d", n)
	}
	if _, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(500)}); !errors.Is(err, service.ErrRefundExceedsCaptured) {
		t.Errorf("expected ErrRefundExceedsCaptured, got %v", err)
	}
}

func TestRefund_CallerKeyIsRecordedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}

	req := service.RefundRequest{TransactionID: tx.ID, Amount: int64Ptr(500), IdempotencyKey: "refund-once"}
	first, err := h.transactions.Refund(ctx, req)
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	again, err := h.transactions.Refund(ctx, req)
	if err != nil {
		t.Fatalf("replayed refund: %v", err)
	}
	if again.ID != first.ID || again.ProviderID != first.ProviderID {
		t.Errorf("expected replay of %s, got %s", first.ID, again.ID)
	}
	if n := h.refundRepo.CountRefunds(); n != 1 {
		t.Errorf("expected 1 recorded refund, got %d", n)
	}
}

func TestGetRefund_RefreshesPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)

	tx, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID})
	if err != nil {
		t.Fatal(err)
	}
	refund, err := h.transactions.Refund(ctx, service.RefundRequest{TransactionID: tx.ID})
	if err != nil {
		t.Fatal(err)
	}

	// Pretend the refund was still pending when it was recorded.
	if err := h.refundRepo.UpdateStatus(ctx, refund.ID, domain.RefundStatusPending); err != nil {
		t.Fatal(err)
	}

	got, err := h.transactions.GetRefund(ctx, refund.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.RefundStatusSucceeded {
		t.Errorf("expected refreshed succeeded refund, got %s", got.Status)
	}

	if _, err := h.transactions.GetRefund(ctx, "missing"); !errors.Is(err, service.ErrRefundNotFound) {
		t.Errorf("expected ErrRefundNotFound, got %v", err)
	}
}
