package driven

// MetricsSink receives fire-and-forget pipeline telemetry. Implementations
// must never block or return errors to callers; a lost metric is acceptable,
// a stalled worker is not.
type MetricsSink interface {
	// Count increments a counter by delta.
	Count(name string, delta float64, tags ...string)

	// Gauge sets a gauge to value.
	Gauge(name string, value float64, tags ...string)

	// Observe records one sample of a latency or size distribution.
	Observe(name string, value float64, tags ...string)
}
