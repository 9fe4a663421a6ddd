package metrics

import (
	"strings"
	"sync"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure MemSink implements the interface.
var _ driven.MetricsSink = (*MemSink)(nil)

// MemSink accumulates metrics in memory. Tests use it to assert on emitted
// telemetry; the status command uses it for a point-in-time snapshot.
type MemSink struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	samples  map[string][]float64
}

// NewMemSink creates an in-memory metrics sink.
func NewMemSink() *MemSink {
	return &MemSink{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		samples:  make(map[string][]float64),
	}
}

func seriesKey(name string, tags []string) string {
	if len(tags) == 0 {
		return name
	}
	return name + "|" + strings.Join(tags, ",")
}

// Count increments a counter by delta.
func (s *MemSink) Count(name string, delta float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[seriesKey(name, tags)] += delta
}

// Gauge sets a gauge to value.
func (s *MemSink) Gauge(name string, value float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[seriesKey(name, tags)] = value
}

// Observe records one sample of a distribution.
func (s *MemSink) Observe(name string, value float64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey(name, tags)
	s.samples[key] = append(s.samples[key], value)
}

// Counter returns the current value of a counter series.
func (s *MemSink) Counter(name string, tags ...string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[seriesKey(name, tags)]
}

// GaugeValue returns the current value of a gauge series.
func (s *MemSink) GaugeValue(name string, tags ...string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[seriesKey(name, tags)]
}

// Samples returns the recorded samples of a distribution series.
func (s *MemSink) Samples(name string, tags ...string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	recorded := s.samples[seriesKey(name, tags)]
	out := make([]float64, len(recorded))
	copy(out, recorded)
	return out
}
