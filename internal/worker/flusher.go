// Package worker holds the background tasks started by the composition root.
// Each task runs until its context is cancelled.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payments/internal/provider"
	"payments/internal/service"
)

// StatusSource reports every provider's health and rolling metrics.
type StatusSource interface {
	GetProviderMetrics(ctx context.Context) ([]service.ProviderStatus, error)
}

// StatusSink receives one provider's status per flush.
type StatusSink interface {
	ObserveStatus(name string, healthy bool, s provider.Snapshot)
}

// MetricsFlusher periodically pushes provider status to the metrics backends.
type MetricsFlusher struct {
	source   StatusSource
	sinks    []StatusSink
	interval time.Duration
	logger   *zap.Logger
}

// NewMetricsFlusher creates a flusher. interval defaults to one minute.
func NewMetricsFlusher(source StatusSource, interval time.Duration, logger *zap.Logger, sinks ...StatusSink) *MetricsFlusher {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsFlusher{
		source:   source,
		sinks:    sinks,
		interval: interval,
		logger:   logger,
	}
}

// Run flushes on every tick until ctx is cancelled.
func (f *MetricsFlusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("metrics flusher started", zap.Duration("interval", f.interval))
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("metrics flusher stopped")
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush pushes one round of provider status to every sink.
func (f *MetricsFlusher) Flush(ctx context.Context) {
	statuses, err := f.source.GetProviderMetrics(ctx)
	if err != nil {
		f.logger.Warn("collecting provider metrics failed", zap.Error(err))
		return
	}

	for _, s := range statuses {
		for _, sink := range f.sinks {
			sink.ObserveStatus(s.Name, s.Healthy, s.Metrics)
		}
		f.logger.Debug("provider metrics",
			zap.String("provider", s.Name),
			zap.Bool("healthy", s.Healthy),
			zap.String("circuit_state", s.CircuitState),
			zap.Float64("success_rate", s.Metrics.SuccessRate),
			zap.Duration("avg_latency", s.Metrics.AvgLatency),
			zap.Int64("total_requests", s.Metrics.TotalRequests),
		)
	}
}
