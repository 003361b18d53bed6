package ports

import "time"

// MetricsCollector receives operational metrics from the evaluator and
// the metering engine. Implementations integrate with observability
// platforms like Prometheus; a nil collector disables metrics.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric by value.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)
}
