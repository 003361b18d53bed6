// Package observability provides the Prometheus implementation of
// ports.MetricsCollector for the evaluator and the metering engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics exposes evaluation decisions, gate failures,
// metering admissions, cap rejections, and usage emission as
// Prometheus metrics.
type PrometheusMetrics struct {
	evaluations     *prometheus.CounterVec
	gateFailures    *prometheus.CounterVec
	recordings      *prometheus.CounterVec
	capRejections   *prometheus.CounterVec
	usageEvents     prometheus.Counter
	submitFailures  prometheus.Counter
	operationTiming *prometheus.HistogramVec
	gauges          *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collector and registers its metrics
// with the supplied registerer; pass prometheus.DefaultRegisterer for
// the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_evaluations_total",
				Help: "Total adherence evaluations, by billing decision.",
			},
			[]string{"decision"},
		),
		gateFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_gate_failures_total",
				Help: "Total gate failures, by gate name.",
			},
			[]string{"gate"},
		),
		recordings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_task_recordings_total",
				Help: "Task recording outcomes at the metering engine.",
			},
			[]string{"outcome"},
		),
		capRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_cap_rejections_total",
				Help: "Guardrail cap rejections, by cap type.",
			},
			[]string{"cap_type"},
		),
		usageEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "metergate_usage_events_emitted_total",
				Help: "Consolidated usage events emitted to the marketplace.",
			},
		),
		submitFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "metergate_submission_failures_total",
				Help: "Usage events refused by the submission collaborator.",
			},
		),
		operationTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metergate_operation_duration_seconds",
				Help:    "Latency of core operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "metergate_state",
				Help: "Current state values reported by the core.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.operationTiming.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements ports.MetricsCollector by routing the named
// metric to its Prometheus counter. Unknown metric names are dropped
// rather than panicking so new callers cannot break metrics emission.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "evaluations_total":
		pm.evaluations.WithLabelValues(labels["decision"]).Add(value)
	case "gate_failures_total":
		pm.gateFailures.WithLabelValues(labels["gate"]).Add(value)
	case "tasks_recorded_total":
		pm.recordings.WithLabelValues("admitted").Add(value)
	case "duplicate_recordings_total":
		pm.recordings.WithLabelValues("duplicate").Add(value)
	case "cap_rejections_total":
		pm.capRejections.WithLabelValues(labels["cap_type"]).Add(value)
	case "usage_events_emitted_total":
		pm.usageEvents.Add(value)
	case "submission_failures_total":
		pm.submitFailures.Add(value)
	}
}

// RecordGauge implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.gauges.WithLabelValues(metric).Set(value)
}
