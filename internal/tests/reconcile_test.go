package tests

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"payments/internal/domain"
	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/service"
	"payments/internal/telemetry"
	"payments/internal/worker"
)

// ──────────────────────────────────────────────
// 8. BACKGROUND WORKERS
// ──────────────────────────────────────────────

// stalePending records a local pending copy of an upstream authorization.
func stalePending(t *testing.T, h *harness, id string, age time.Duration) *domain.Transaction {
	t.Helper()
	c := h.customer(t)
	upstream, err := h.provider.Authorize(context.Background(), domain.ChargeParams{
		Amount:         gbp(1000),
		CustomerID:     c.ID,
		IdempotencyKey: "reconcile-" + id,
	})
	if err != nil {
		t.Fatal(err)
	}

	tx := &domain.Transaction{
		ID:         id,
		ProviderID: upstream.ProviderID,
		Provider:   string(provider.TypeMock),
		Amount:     upstream.Amount,
		Status:     domain.TransactionStatusPending,
		CustomerID: c.ID,
		CreatedAt:  time.Now().Add(-age),
	}
	h.txRepo.AddTransaction(tx)
	return tx
}

func TestReconcile_SettlesStalePendingTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	stale := stalePending(t, h, "tx-stale", time.Hour)
	fresh := stalePending(t, h, "tx-fresh", time.Minute)

	changed, err := h.transactions.Reconcile(ctx, 15*time.Minute, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected 1 changed transaction, got %d", changed)
	}
	if got := h.txRepo.GetTransaction(stale.ID).Status; got != domain.TransactionStatusSucceeded {
		t.Errorf("expected stale transaction to settle, got %s", got)
	}
	if got := h.txRepo.GetTransaction(fresh.ID).Status; got != domain.TransactionStatusPending {
		t.Errorf("expected recent transaction to be left alone, got %s", got)
	}
}

func TestReconcile_ProviderOutageLeavesTransactionPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	stale := stalePending(t, h, "tx-outage", time.Hour)
	h.provider.SetHealthy(false)

	changed, err := h.transactions.Reconcile(context.Background(), 15*time.Minute, 10)
	if err != nil {
		t.Fatalf("reconcile should skip failed refreshes, got %v", err)
	}
	if changed != 0 {
		t.Errorf("expected no changes, got %d", changed)
	}
	if got := h.txRepo.GetTransaction(stale.ID).Status; got != domain.TransactionStatusPending {
		t.Errorf("expected pending, got %s", got)
	}
}

func TestReconciler_RunOnceUsesTransactionService(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	stale := stalePending(t, h, "tx-worker", time.Hour)

	r := worker.NewReconciler(h.transactions, time.Minute, 15*time.Minute, 10, zap.NewNop())
	r.RunOnce(context.Background())

	if got := h.txRepo.GetTransaction(stale.ID).Status; got != domain.TransactionStatusSucceeded {
		t.Errorf("expected worker to settle transaction, got %s", got)
	}
}

func TestMetricsFlusher_ExportsProviderStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	c := h.customer(t)
	h.provider.FailNext(1, providererr.CodeCardDeclined)
	if _, err := h.transactions.Charge(ctx, service.ChargeRequest{Amount: gbp(1000), CustomerID: c.ID}); err == nil {
		t.Fatal("expected injected decline")
	}

	reg := prometheus.NewRegistry()
	rec, err := telemetry.NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatal(err)
	}
	worker.NewMetricsFlusher(h.payments, time.Minute, zap.NewNop(), rec).Flush(ctx)

	count, err := testutil.GatherAndCount(reg, "payments_provider_healthy", "payments_provider_success_rate")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected one healthy and one success-rate series, got %d", count)
	}
	snap := h.provider.Metrics()
	if snap.SuccessRate >= 1 {
		t.Errorf("expected the injected failure to lower the success rate, got %v", snap.SuccessRate)
	}
}
