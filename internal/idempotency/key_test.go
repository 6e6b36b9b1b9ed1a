package idempotency

import (
	"strings"
	"testing"

	"payments/internal/domain"
)

func baseParams() domain.ChargeParams {
	return domain.ChargeParams{
		Amount:          domain.Money{Amount: 1000, Currency: domain.CurrencyGBP},
		CustomerID:      "cus_1",
		PaymentMethodID: "pm_1",
		Capture:         true,
		Metadata:        map[string]string{"bill_id": "b1", "user_id": "u1"},
	}
}

func TestChargeKey_Deterministic(t *testing.T) {
	a := baseParams()
	b := baseParams()
	// Same content built in a different map insertion order.
	b.Metadata = map[string]string{"user_id": "u1", "bill_id": "b1"}

	if ChargeKey(a) != ChargeKey(b) {
		t.Fatal("identical requests must derive identical keys")
	}
	if !strings.HasPrefix(ChargeKey(a), "idem_") {
		t.Errorf("unexpected key format %q", ChargeKey(a))
	}
}

func TestChargeKey_DiffersOnSemanticChange(t *testing.T) {
	base := ChargeKey(baseParams())

	testCases := []struct {
		name   string
		modify func(p *domain.ChargeParams)
	}{
		{"amount", func(p *domain.ChargeParams) { p.Amount.Amount = 1001 }},
		{"currency", func(p *domain.ChargeParams) { p.Amount.Currency = domain.CurrencyUSD }},
		{"customer", func(p *domain.ChargeParams) { p.CustomerID = "cus_2" }},
		{"payment method", func(p *domain.ChargeParams) { p.PaymentMethodID = "pm_2" }},
		{"capture", func(p *domain.ChargeParams) { p.Capture = false }},
		{"metadata", func(p *domain.ChargeParams) { p.Metadata["bill_id"] = "b2" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := baseParams()
			tc.modify(&p)
			if ChargeKey(p) == base {
				t.Errorf("changing %s must change the key", tc.name)
			}
		})
	}
}

func TestChargeKey_IgnoresCallerKey(t *testing.T) {
	a := baseParams()
	b := baseParams()
	b.IdempotencyKey = "caller-key"

	if ChargeKey(a) != ChargeKey(b) {
		t.Error("the caller key must not affect the derived key")
	}
}

func TestChargeKey_NoCollisionsAcrossAmounts(t *testing.T) {
	seen := make(map[string]int64)
	for amount := int64(0); amount < 2000; amount++ {
		p := baseParams()
		p.Amount.Amount = amount
		k := ChargeKey(p)
		if prev, ok := seen[k]; ok {
			t.Fatalf("collision between amounts %d and %d", prev, amount)
		}
		seen[k] = amount
	}
}

func TestResolveCharge_CallerKeyWins(t *testing.T) {
	p := baseParams()
	p.IdempotencyKey = "order-123"
	if got := ResolveCharge(p); got != "order-123" {
		t.Errorf("expected caller key, got %q", got)
	}

	p.IdempotencyKey = ""
	if got := ResolveCharge(p); got != ChargeKey(p) {
		t.Errorf("expected derived key, got %q", got)
	}
}

func TestOperationKey(t *testing.T) {
	if OperationKey("capture", "tx_1", "500") != OperationKey("capture", "tx_1", "500") {
		t.Error("operation keys must be deterministic")
	}
	if OperationKey("capture", "tx_1") == OperationKey("void", "tx_1") {
		t.Error("different operations must not share keys")
	}
	if OperationKey("refund", "a", "bc") == OperationKey("refund", "ab", "c") {
		t.Error("part boundaries must be preserved")
	}
	if Resolve("explicit", "refund", "tx_1") != "explicit" {
		t.Error("explicit key must win")
	}
}

func TestResolveUnique(t *testing.T) {
	if ResolveUnique("explicit", "refund") != "explicit" {
		t.Error("explicit key must win")
	}
	a, b := ResolveUnique("", "refund"), ResolveUnique("", "refund")
	if a == b {
		t.Error("repeated calls without a caller key must not share a key")
	}
	if !strings.HasPrefix(a, keyPrefix) {
		t.Errorf("expected %q prefix, got %q", keyPrefix, a)
	}
}
