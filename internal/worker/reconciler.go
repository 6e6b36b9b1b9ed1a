package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TransactionReconciler refreshes stale transactions from their provider.
type TransactionReconciler interface {
	Reconcile(ctx context.Context, age time.Duration, limit int) (int, error)
}

// Reconciler periodically settles transactions that are still pending or
// processing, for when the provider's webhook never arrived.
type Reconciler struct {
	transactions TransactionReconciler
	interval     time.Duration
	age          time.Duration
	batch        int
	logger       *zap.Logger
}

// NewReconciler creates a Reconciler that every interval refreshes up to
// batch transactions older than age.
func NewReconciler(transactions TransactionReconciler, interval, age time.Duration, batch int, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if age <= 0 {
		age = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		transactions: transactions,
		interval:     interval,
		age:          age,
		batch:        batch,
		logger:       logger,
	}
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", r.interval), zap.Duration("age", r.age))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles a single batch.
func (r *Reconciler) RunOnce(ctx context.Context) {
	changed, err := r.transactions.Reconcile(ctx, r.age, r.batch)
	if err != nil {
		r.logger.Warn("reconcile batch failed", zap.Int("changed", changed), zap.Error(err))
		return
	}
	if changed > 0 {
		r.logger.Info("reconciled transactions", zap.Int("changed", changed))
	}
}
