// Package metering implements the aggregation and guardrail engine: it
// converts a stream of billable-task notifications into deduplicated
// per-hour-per-subscription buckets, enforces admission caps, and emits
// each consolidated usage record exactly once per bucket.
package metering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

// bucketKey addresses one pending set: one subscription within one
// canonical UTC hour window.
type bucketKey struct {
	sub  string
	hour string
}

// dailyKey addresses one subscription's distinct-task counter for one
// UTC calendar day.
type dailyKey struct {
	sub string
	day string
}

// Engine owns all aggregation state for its lifetime: pending task-id
// sets, daily admission counters, submitted-window markers, and the
// anomaly list. State lives in memory and is never evicted; pruning
// finalized windows is a deployment concern.
//
// Every mutating operation is a check-then-act sequence over that
// state, so the engine serializes them behind one mutex. The external
// submitter is invoked as a single atomic step per event and never
// retried here.
type Engine struct {
	guardrails application.GuardrailConfig
	planID     string
	dryRun     bool
	submitter  ports.Submitter

	logger  *slog.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
	now     func() time.Time

	mu        sync.Mutex
	pending   map[bucketKey]map[string]struct{}
	daily     map[dailyKey]int
	submitted map[bucketKey]struct{}
	anomalies []domain.AnomalyRecord
}

// EngineOption configures optional engine dependencies.
type EngineOption func(*Engine)

// WithLogger attaches a structured logger for metering events.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(metrics ports.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock overrides the engine's time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an aggregation engine. A submitter is required
// unless the configuration runs dry: in dry-run mode events are only
// surfaced to the caller and logged.
func NewEngine(cfg application.MeterConfig, submitter ports.Submitter, opts ...EngineOption) (*Engine, error) {
	if cfg.Guardrails.HourlyCap < 0 || cfg.Guardrails.DailyCap < 0 {
		return nil, fmt.Errorf("guardrail caps cannot be negative: hourly=%d daily=%d",
			cfg.Guardrails.HourlyCap, cfg.Guardrails.DailyCap)
	}
	if !cfg.DryRun && submitter == nil {
		return nil, fmt.Errorf("a submitter is required outside dry-run mode")
	}

	e := &Engine{
		guardrails: cfg.Guardrails,
		planID:     cfg.PlanID,
		dryRun:     cfg.DryRun,
		submitter:  submitter,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer("metergate-metering"),
		now:        time.Now,
		pending:    make(map[bucketKey]map[string]struct{}),
		daily:      make(map[dailyKey]int),
		submitted:  make(map[bucketKey]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DryRun reports whether the engine withholds events from the
// submitter.
func (e *Engine) DryRun() bool { return e.dryRun }

// RecordTaskCompleted records that taskID was billable for the
// subscription at the given time (zero time means now). It returns
// true when the task was newly admitted.
//
// False has two normal meanings, neither of them an error: the task
// was already recorded for that hour (idempotent replay), or a
// guardrail cap rejected it, in which case an AnomalyRecord is
// appended for operational review. Duplicates are detected before caps
// are consulted, so a replayed task never produces an anomaly.
func (e *Engine) RecordTaskCompleted(ctx context.Context, subscriptionRef, taskID string, ts time.Time, correlationID string) bool {
	if ts.IsZero() {
		ts = e.now()
	}
	hour := domain.FormatHourWindow(ts)
	day := domain.DayKey(ts)
	key := bucketKey{sub: subscriptionRef, hour: hour}

	_, span := e.tracer.Start(ctx, "Engine.RecordTaskCompleted",
		trace.WithAttributes(
			attribute.String("subscription.ref", subscriptionRef),
			attribute.String("task.id", taskID),
			attribute.String("hour.window", hour),
		))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.pending[key][taskID]; dup {
		e.logger.DebugContext(ctx, "duplicate task recording ignored",
			"correlation_id", correlationID,
			"subscription_ref", subscriptionRef,
			"task_id", taskID,
			"hour_window", hour,
		)
		e.count("duplicate_recordings_total", nil)
		span.SetAttributes(attribute.String("record.outcome", "duplicate"))
		return false
	}

	hourlyCount := len(e.pending[key])
	if limit := e.guardrails.HourlyCap; limit > 0 && hourlyCount+1 > limit {
		e.reject(ctx, subscriptionRef, taskID, domain.CapHourly, limit, hourlyCount, correlationID, ts)
		span.SetAttributes(attribute.String("record.outcome", "cap_rejected"))
		return false
	}

	dk := dailyKey{sub: subscriptionRef, day: day}
	if limit := e.guardrails.DailyCap; limit > 0 && e.daily[dk]+1 > limit {
		e.reject(ctx, subscriptionRef, taskID, domain.CapDaily, limit, e.daily[dk], correlationID, ts)
		span.SetAttributes(attribute.String("record.outcome", "cap_rejected"))
		return false
	}

	if e.pending[key] == nil {
		e.pending[key] = make(map[string]struct{})
	}
	e.pending[key][taskID] = struct{}{}
	e.daily[dk]++

	e.logger.InfoContext(ctx, "task recorded",
		"correlation_id", correlationID,
		"subscription_ref", subscriptionRef,
		"task_id", taskID,
		"hour_window", hour,
	)
	e.count("tasks_recorded_total", nil)
	span.SetAttributes(attribute.String("record.outcome", "admitted"))
	return true
}

// reject appends a guardrail anomaly. Caller holds the mutex.
func (e *Engine) reject(ctx context.Context, subscriptionRef, taskID string, capType domain.CapType, capValue, actual int, correlationID string, ts time.Time) {
	e.anomalies = append(e.anomalies, domain.AnomalyRecord{
		SubscriptionRef: subscriptionRef,
		TaskID:          taskID,
		CapType:         capType,
		CapValue:        capValue,
		ActualValue:     actual,
		CorrelationID:   correlationID,
		Timestamp:       ts.UTC(),
	})

	e.logger.WarnContext(ctx, "guardrail cap exceeded",
		"correlation_id", correlationID,
		"subscription_ref", subscriptionRef,
		"task_id", taskID,
		"cap_type", string(capType),
		"cap_value", capValue,
		"actual", actual,
	)
	e.count("cap_rejections_total", map[string]string{"cap_type": string(capType)})
}

// AggregateAndSubmit consolidates every unsubmitted pending bucket in
// the given hour window into usage events, one per subscription, in
// deterministic subscription order.
//
// A malformed window is an error for this call only; nothing mutates.
// In dry-run mode events are returned without touching the submitter
// but their buckets are still marked submitted, keeping repetition
// idempotent. In live mode a bucket is marked submitted only after the
// submitter accepts its event; on failure the events emitted so far
// are returned together with a SubmissionError and the failed bucket
// stays intact for retry, giving at-least-once semantics.
//
// Calling again for the same window emits nothing new.
func (e *Engine) AggregateAndSubmit(ctx context.Context, hourWindow, correlationID string) ([]domain.UsageEvent, error) {
	hour, err := domain.ParseHourWindow(hourWindow)
	if err != nil {
		return nil, err
	}
	window := domain.FormatHourWindow(hour)

	ctx, span := e.tracer.Start(ctx, "Engine.AggregateAndSubmit",
		trace.WithAttributes(attribute.String("hour.window", window)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.submitBucketsLocked(ctx, e.unsubmittedLocked(window), correlationID)
	span.SetAttributes(attribute.Int("usage.events_emitted", len(events)))
	return events, err
}

// AggregateAllPending consolidates every unsubmitted bucket across all
// recorded hour windows, ordered by window then subscription. Useful
// for catch-up submission after downtime.
func (e *Engine) AggregateAllPending(ctx context.Context, correlationID string) ([]domain.UsageEvent, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AggregateAllPending")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.submitBucketsLocked(ctx, e.unsubmittedLocked(""), correlationID)
	span.SetAttributes(attribute.Int("usage.events_emitted", len(events)))
	return events, err
}

// unsubmittedLocked returns the non-empty, not-yet-submitted bucket
// keys for a window ("" for all windows), sorted by window then
// subscription so emission order is deterministic. Caller holds the
// mutex.
func (e *Engine) unsubmittedLocked(window string) []bucketKey {
	var keys []bucketKey
	for key, tasks := range e.pending {
		if window != "" && key.hour != window {
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		if _, done := e.submitted[key]; done {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].hour != keys[j].hour {
			return keys[i].hour < keys[j].hour
		}
		return keys[i].sub < keys[j].sub
	})
	return keys
}

// submitBucketsLocked emits one usage event per bucket key, marking
// each bucket submitted as it goes. Caller holds the mutex.
func (e *Engine) submitBucketsLocked(ctx context.Context, keys []bucketKey, correlationID string) ([]domain.UsageEvent, error) {
	events := make([]domain.UsageEvent, 0, len(keys))

	for _, key := range keys {
		hour, err := domain.ParseHourWindow(key.hour)
		if err != nil {
			// Bucket keys are canonical by construction.
			return events, err
		}

		event := domain.UsageEvent{
			ResourceID:         key.sub,
			Dimension:          domain.Dimension,
			Quantity:           len(e.pending[key]),
			EffectiveStartTime: hour,
			PlanID:             e.planID,
		}

		if e.dryRun {
			e.logger.InfoContext(ctx, "usage event (dry run)",
				"correlation_id", correlationID,
				"resource_id", event.ResourceID,
				"hour_window", key.hour,
				"quantity", event.Quantity,
			)
		} else {
			if err := e.submitter.Submit(ctx, event); err != nil {
				e.logger.ErrorContext(ctx, "usage submission failed",
					"correlation_id", correlationID,
					"resource_id", event.ResourceID,
					"hour_window", key.hour,
					"quantity", event.Quantity,
					"error", err,
				)
				e.count("submission_failures_total", nil)
				return events, &domain.SubmissionError{ResourceID: key.sub, Hour: hour, Err: err}
			}
			e.logger.InfoContext(ctx, "usage event submitted",
				"correlation_id", correlationID,
				"resource_id", event.ResourceID,
				"hour_window", key.hour,
				"quantity", event.Quantity,
			)
		}

		e.submitted[key] = struct{}{}
		events = append(events, event)
		e.count("usage_events_emitted_total", nil)
	}

	return events, nil
}

// PendingQuantity returns the unsubmitted distinct-task count for one
// (subscription, hour) bucket without mutating state. Once the bucket
// has been marked submitted the pending quantity is zero.
func (e *Engine) PendingQuantity(subscriptionRef, hourWindow string) (int, error) {
	hour, err := domain.ParseHourWindow(hourWindow)
	if err != nil {
		return 0, err
	}
	key := bucketKey{sub: subscriptionRef, hour: domain.FormatHourWindow(hour)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.submitted[key]; done {
		return 0, nil
	}
	return len(e.pending[key]), nil
}

// Anomalies returns a copy of all guardrail anomaly records in the
// order they were appended.
func (e *Engine) Anomalies() []domain.AnomalyRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AnomalyRecord(nil), e.anomalies...)
}

func (e *Engine) count(metric string, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordCounter(metric, 1, labels)
	}
}
