package provider

import (
	"sync"
	"time"
)

// DefaultWindowSize is the number of recent samples kept per provider.
const DefaultWindowSize = 100

type sample struct {
	ok      bool
	latency time.Duration
}

// Snapshot is a point-in-time view of a provider's request metrics.
type Snapshot struct {
	SuccessRate   float64       `json:"success_rate"`
	AvgLatency    time.Duration `json:"avg_latency_ns"`
	TotalRequests int64         `json:"total_requests"`
}

// Metrics keeps a rolling window of outcomes and a lifetime request count.
// Safe for concurrent use.
type Metrics struct {
	mu     sync.Mutex
	window []sample
	next   int
	filled bool
	total  int64
}

// NewMetrics creates a Metrics with the given window size.
func NewMetrics(size int) *Metrics {
	if size < 1 {
		size = DefaultWindowSize
	}
	return &Metrics{window: make([]sample, size)}
}

// Record adds one outcome.
func (m *Metrics) Record(ok bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window[m.next] = sample{ok: ok, latency: latency}
	m.next++
	if m.next == len(m.window) {
		m.next = 0
		m.filled = true
	}
	m.total++
}

// Snapshot summarizes the window. With no samples the success rate is 1.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.filled {
		n = len(m.window)
	}
	snap := Snapshot{SuccessRate: 1, TotalRequests: m.total}
	if n == 0 {
		return snap
	}

	var ok int
	var sum time.Duration
	for _, s := range m.window[:n] {
		if s.ok {
			ok++
		}
		sum += s.latency
	}
	snap.SuccessRate = float64(ok) / float64(n)
	snap.AvgLatency = sum / time.Duration(n)
	return snap
}
