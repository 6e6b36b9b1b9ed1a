package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/resilience"
)

// PrometheusRecorder exports provider request and breaker metrics.
type PrometheusRecorder struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	successRate  *prometheus.GaugeVec
	avgLatency   *prometheus.GaugeVec
	healthy      *prometheus.GaugeVec
}

var _ provider.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates the collectors and registers them with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_provider_requests_total",
			Help: "Provider operations by outcome code.",
		}, []string{"provider", "operation", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_provider_request_duration_seconds",
			Help:    "Provider operation latency including retries.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "operation"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payments_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"provider", "from", "to"}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payments_provider_success_rate",
			Help: "Success rate over the provider's rolling window.",
		}, []string{"provider"}),
		avgLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payments_provider_avg_latency_seconds",
			Help: "Average latency over the provider's rolling window.",
		}, []string{"provider"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payments_provider_healthy",
			Help: "1 when the last health check passed.",
		}, []string{"provider"}),
	}

	for _, c := range []prometheus.Collector{
		r.requests, r.duration, r.breakerState, r.transitions,
		r.successRate, r.avgLatency, r.healthy,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveRequest(name, operation string, err error, elapsed time.Duration) {
	code := "ok"
	if err != nil {
		code = string(providererr.CodeOf(err))
	}
	r.requests.WithLabelValues(name, operation, code).Inc()
	r.duration.WithLabelValues(name, operation).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) BreakerStateChanged(name string, from, to resilience.State) {
	r.breakerState.WithLabelValues(name).Set(float64(to))
	r.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// ObserveStatus records a provider's rolling window and health. The metrics
// flusher calls it periodically.
func (r *PrometheusRecorder) ObserveStatus(name string, healthy bool, s provider.Snapshot) {
	r.successRate.WithLabelValues(name).Set(s.SuccessRate)
	r.avgLatency.WithLabelValues(name).Set(s.AvgLatency.Seconds())
	v := 0.0
	if healthy {
		v = 1
	}
	r.healthy.WithLabelValues(name).Set(v)
}
