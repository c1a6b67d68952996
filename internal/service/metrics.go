package service

import (
	"sync"
)

// Metric names counted by the transition pipeline.
const (
	MetricTransitionsOffered  = "transitions_offered"
	MetricTransitionsUnmapped = "transitions_unmapped"
	MetricEventsEmitted       = "events_emitted"
	MetricEmissionFailures    = "emission_failures"
	MetricParityMatched       = "parity_matched"
	MetricParityMismatched    = "parity_mismatched"
	MetricParitySkipped       = "parity_skipped"
	MetricChargesExpunged     = "charges_expunged"
)

// MetricsSink decouples the pipeline from observability plumbing so the
// state-machine logic stays independently testable.
type MetricsSink interface {
	Inc(name string)
}

type NopMetrics struct{}

func (NopMetrics) Inc(string) {}

// CounterMetrics is the in-process default sink.
type CounterMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counters: make(map[string]int64)}
}

func (m *CounterMetrics) Inc(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()
}

func (m *CounterMetrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
