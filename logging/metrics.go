package logging

import "sync"

// Metrics is a minimal counter/gauge store published alongside structured
// log events, so collaborators that only need to bump a counter (ring
// buffer occupancy, connection counts, opcode byte totals) don't need a
// full Event for every observation.
type Metrics struct {
	mu      sync.Mutex
	counts  map[string]uint64
	gauges  map[string]uint64
}

// NewMetrics constructs an empty Metrics store.
func NewMetrics() *Metrics {
	return &Metrics{counts: make(map[string]uint64), gauges: make(map[string]uint64)}
}

// TelemetryAdd increments a named counter by delta.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
}

// TelemetryStore sets a named gauge to value.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[key] = value
}

// Snapshot returns copies of the current counters and gauges, for
// diagnostics endpoints and tests.
func (m *Metrics) Snapshot() (counts, gauges map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts = make(map[string]uint64, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	gauges = make(map[string]uint64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return counts, gauges
}
