package telemetry

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"payments/internal/provider"
	"payments/internal/providererr"
	"payments/internal/resilience"
)

// NewRelicConfig holds the agent settings.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// NewNewRelicApp starts the agent. It returns nil when disabled.
func NewNewRelicApp(cfg NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("start new relic: %w", err)
	}
	return app, nil
}

// NewRelicRecorder reports provider metrics as New Relic custom metrics and
// breaker transitions as custom events.
type NewRelicRecorder struct {
	app *newrelic.Application
}

var _ provider.Recorder = (*NewRelicRecorder)(nil)

// NewNewRelicRecorder wraps app. A nil app yields a recorder that drops everything.
func NewNewRelicRecorder(app *newrelic.Application) *NewRelicRecorder {
	return &NewRelicRecorder{app: app}
}

func metricName(name, metric string) string {
	return "Custom/Payments/" + name + "/" + metric
}

func (r *NewRelicRecorder) ObserveRequest(name, operation string, err error, elapsed time.Duration) {
	if r.app == nil {
		return
	}
	r.app.RecordCustomMetric(metricName(name, operation+"/Duration"), elapsed.Seconds())
	if err != nil {
		r.app.RecordCustomMetric(metricName(name, operation+"/Errors/"+string(providererr.CodeOf(err))), 1)
	}
}

func (r *NewRelicRecorder) BreakerStateChanged(name string, from, to resilience.State) {
	if r.app == nil {
		return
	}
	r.app.RecordCustomEvent("CircuitBreakerTransition", map[string]any{
		"provider": name,
		"from":     from.String(),
		"to":       to.String(),
	})
}

// ObserveStatus records a provider's rolling window for the flusher.
func (r *NewRelicRecorder) ObserveStatus(name string, healthy bool, s provider.Snapshot) {
	if r.app == nil {
		return
	}
	r.app.RecordCustomMetric(metricName(name, "SuccessRate"), s.SuccessRate)
	r.app.RecordCustomMetric(metricName(name, "AvgLatency"), s.AvgLatency.Seconds())
	r.app.RecordCustomMetric(metricName(name, "TotalRequests"), float64(s.TotalRequests))
	h := 0.0
	if healthy {
		h = 1
	}
	r.app.RecordCustomMetric(metricName(name, "Healthy"), h)
}
