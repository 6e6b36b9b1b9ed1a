package provider

import (
	"time"

	"payments/internal/resilience"
)

// Recorder receives one observation per provider operation and every breaker
// transition. Telemetry backends implement it.
type Recorder interface {
	ObserveRequest(provider, operation string, err error, elapsed time.Duration)
	BreakerStateChanged(provider string, from, to resilience.State)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) ObserveRequest(string, string, error, time.Duration)            {}
func (NopRecorder) BreakerStateChanged(string, resilience.State, resilience.State) {}

// MultiRecorder fans out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) ObserveRequest(provider, operation string, err error, elapsed time.Duration) {
	for _, r := range m {
		r.ObserveRequest(provider, operation, err, elapsed)
	}
}

func (m MultiRecorder) BreakerStateChanged(provider string, from, to resilience.State) {
	for _, r := range m {
		r.BreakerStateChanged(provider, from, to)
	}
}
