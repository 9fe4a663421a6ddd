// Package metrics provides pipeline telemetry sinks.
package metrics

import (
	"strings"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
	"github.com/stevenmcsorley/sec-filing-intelligence/internal/logger"
)

// Ensure LogSink implements the interface.
var _ driven.MetricsSink = (*LogSink)(nil)

// LogSink emits metrics as debug log lines. It only produces output in
// verbose mode, so the default operator experience stays quiet.
type LogSink struct{}

// NewLogSink creates a metrics sink backed by the package logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Count increments a counter by delta.
func (s *LogSink) Count(name string, delta float64, tags ...string) {
	logger.Debug("metric count %s=%g%s", name, delta, formatTags(tags))
}

// Gauge sets a gauge to value.
func (s *LogSink) Gauge(name string, value float64, tags ...string) {
	logger.Debug("metric gauge %s=%g%s", name, value, formatTags(tags))
}

// Observe records one sample of a distribution.
func (s *LogSink) Observe(name string, value float64, tags ...string) {
	logger.Debug("metric observe %s=%g%s", name, value, formatTags(tags))
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " [" + strings.Join(tags, " ") + "]"
}
