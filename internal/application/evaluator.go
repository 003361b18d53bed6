package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

// batchConcurrency bounds how many evaluations EvaluateAll runs at
// once. The pipeline is stateless, so the limit only protects the
// audit store from write bursts.
const batchConcurrency = 8

// Evaluator runs evaluation requests through the ordered adherence
// pipeline, producing a billable/non-billable decision with a complete
// reason-code trail and exactly one audit record per invocation.
//
// Evaluation is deterministic: same request, same outcome. The only
// shared-state interaction is the audit write, covered by the store's
// insert-once guarantee, so an Evaluator is safe for unlimited
// concurrent use.
type Evaluator struct {
	gates   []ports.Gate
	audit   ports.AuditStore
	logger  *slog.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer

	newID func() string
	now   func() time.Time
}

// EvaluatorOption configures optional evaluator dependencies.
type EvaluatorOption func(*Evaluator)

// WithLogger attaches a structured logger for decision events.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(metrics ports.MetricsCollector) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = metrics }
}

// WithClock overrides the evaluator's time source, for tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithIDGenerator overrides correlation ID generation, for tests.
func WithIDGenerator(newID func() string) EvaluatorOption {
	return func(e *Evaluator) { e.newID = newID }
}

// NewEvaluator builds an evaluator over an ordered gate pipeline and an
// audit store. The pipeline must contain exactly the five adherence
// gates; every gate's configuration is validated up front.
func NewEvaluator(pipeline []ports.Gate, audit ports.AuditStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if len(pipeline) != domain.GateCount {
		return nil, fmt.Errorf("adherence pipeline requires %d gates, got %d", domain.GateCount, len(pipeline))
	}
	if audit == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	for _, gate := range pipeline {
		if err := gate.Validate(); err != nil {
			return nil, fmt.Errorf("gate %s: %w", gate.Name(), err)
		}
	}

	e := &Evaluator{
		gates:  pipeline,
		audit:  audit,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("metergate-evaluator"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs one request through all five gates, never
// short-circuiting so the reason-code trail is always complete, and
// persists the decision to the audit store under the request's
// correlation ID (generated when absent).
//
// A non-billable task is a normal outcome, not an error. The only
// error path is the audit write itself, most notably a reused
// correlation ID.
func (e *Evaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) (domain.EvaluationResult, error) {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = e.newID()
	}

	ctx, span := e.tracer.Start(ctx, "Evaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("task.id", req.TaskID),
			attribute.String("subscription.ref", req.SubscriptionRef),
			attribute.String("correlation.id", correlationID),
		))
	defer span.End()

	start := e.now()

	results := make([]domain.GateResult, 0, len(e.gates))
	for _, gate := range e.gates {
		results = append(results, gate.Evaluate(ctx, req.Evidence))
	}

	intentHandled := results[0].Satisfied()
	adhered := true
	for _, r := range results[1:] {
		adhered = adhered && r.Satisfied()
	}

	billableUnits := 0
	if intentHandled && adhered {
		billableUnits = 1
	}

	reasonCodes := make([]string, len(results))
	for i, r := range results {
		reasonCodes[i] = r.ReasonCode()
		if r.Status == domain.GateFailed {
			e.count("gate_failures_total", map[string]string{"gate": r.Gate})
		}
	}

	result := domain.EvaluationResult{
		CorrelationID: correlationID,
		IntentHandled: intentHandled,
		Adhered:       adhered,
		BillableUnits: billableUnits,
		ReasonCodes:   reasonCodes,
	}

	record := domain.NewAuditRecord(req, result, e.now())
	if err := e.audit.Insert(ctx, record); err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("persisting audit record %s: %w", correlationID, err)
	}

	span.SetAttributes(
		attribute.Bool("evaluation.adhered", adhered),
		attribute.Int("evaluation.billable_units", billableUnits),
	)

	e.logger.InfoContext(ctx, "evaluation decision",
		"correlation_id", correlationID,
		"task_id", req.TaskID,
		"agent_id", req.AgentID,
		"subscription_ref", req.SubscriptionRef,
		"intent_handled", intentHandled,
		"adhered", adhered,
		"billable_units", billableUnits,
		"reason_codes", reasonCodes,
	)

	e.count("evaluations_total", map[string]string{"decision": decisionLabel(billableUnits)})
	if e.metrics != nil {
		e.metrics.RecordLatency("evaluate", e.now().Sub(start), nil)
	}

	return result, nil
}

// EvaluateAll evaluates a batch of requests concurrently, preserving
// input order in the results. The first audit-write failure cancels
// the remaining work and is returned.
func (e *Evaluator) EvaluateAll(ctx context.Context, reqs []domain.EvaluationRequest) ([]domain.EvaluationResult, error) {
	results := make([]domain.EvaluationResult, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Evaluate(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AuditStore exposes the underlying audit store for read paths.
func (e *Evaluator) AuditStore() ports.AuditStore { return e.audit }

func (e *Evaluator) count(metric string, labels map[string]string) {
	if e.metrics != nil {
		e.metrics.RecordCounter(metric, 1, labels)
	}
}

func decisionLabel(billableUnits int) string {
	if billableUnits > 0 {
		return "billable"
	}
	return "non_billable"
}
