package obs

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// MemoryMeter sums measurements in memory, per metric name, ignoring
// labels. It is safe for concurrent use.
type MemoryMeter struct {
	mu     sync.Mutex
	counts map[string]float64
	hists  map[string][]float64
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{counts: make(map[string]float64), hists: make(map[string][]float64)}
}

func (m *MemoryMeter) Counter(name string, value float64, labels ...Label) {
	m.mu.Lock()
	m.counts[name] += value
	m.mu.Unlock()
}

func (m *MemoryMeter) Histogram(name string, value float64, labels ...Label) {
	m.mu.Lock()
	m.hists[name] = append(m.hists[name], value)
	m.mu.Unlock()
}

// Count returns the running total of counter name.
func (m *MemoryMeter) Count(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// Observations returns a copy of the values recorded for histogram name.
func (m *MemoryMeter) Observations(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.hists[name]...)
}

// String renders counters as "name=value" lines sorted by name.
func (m *MemoryMeter) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.counts))
	for n := range m.counts {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(m.counts[n], 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}
