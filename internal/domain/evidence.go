// Package domain contains the core value objects for adherence evaluation
// and usage metering. Types in this package are immutable once constructed
// and perform no I/O, keeping the billing rules independently testable.
package domain

import (
	"strings"
	"time"
)

// Evidence carries a task's raw proof of work into the gate pipeline.
// All fields are optional; absent evidence simply fails the gates that
// depend on it.
type Evidence struct {
	// Query is the original user query or intent, consumed by the
	// intent resolution gate. May be empty.
	Query string `json:"query"`

	// Response is the agent's response to the query, consumed by the
	// intent resolution gate. May be empty.
	Response string `json:"response"`

	// Outputs holds the task's terminal outputs keyed by name
	// (e.g. {"status": "completed", "result": ...}). Values may be nil
	// or empty; the output validation gate decides what that means.
	Outputs map[string]any `json:"outputs"`

	// Scores holds optional numeric evaluator scores
	// (e.g. {"intent_resolution": 4.0} from an AI evaluation SDK).
	Scores map[string]float64 `json:"scores,omitempty"`

	// Approved records an explicit human or policy approval of the task.
	Approved bool `json:"approved"`
}

// HasIntentExchange reports whether both the query and the response are
// non-blank, the baseline signal for intent resolution.
func (e Evidence) HasIntentExchange() bool {
	return strings.TrimSpace(e.Query) != "" && strings.TrimSpace(e.Response) != ""
}

// EvaluationRequest is the input for a single task evaluation. It is
// created once per task completion and never mutated.
type EvaluationRequest struct {
	// TaskID uniquely identifies the completed task. Opaque to the core.
	TaskID string `json:"task_id"`

	// AgentID identifies the agent that executed the task.
	AgentID string `json:"agent_id"`

	// SubscriptionRef is the marketplace subscription or resource
	// reference, the unit everything is billed against.
	SubscriptionRef string `json:"subscription_ref"`

	// Evidence is the task's raw proof of work.
	Evidence Evidence `json:"evidence"`

	// CorrelationID optionally threads a caller-supplied trace token
	// through the evaluation. One is generated when empty.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EvaluationResult is the deterministic outcome of running a request
// through the gate pipeline. Produced exactly once per evaluation.
type EvaluationResult struct {
	// CorrelationID identifies this evaluation in the audit trail.
	CorrelationID string `json:"correlation_id"`

	// IntentHandled reflects the intent resolution gate: true when the
	// gate passed or was skipped.
	IntentHandled bool `json:"intent_handled"`

	// Adhered is the conjunction of the four adherence gates, with
	// skipped gates counting as passed.
	Adhered bool `json:"adhered"`

	// BillableUnits is 1 when both IntentHandled and Adhered hold,
	// otherwise 0. Never any other value.
	BillableUnits int `json:"billable_units"`

	// ReasonCodes holds exactly one entry per gate, in gate order,
	// each of the form "<gate>:<passed|failed|skipped>".
	ReasonCodes []string `json:"reason_codes"`
}

// Billable reports whether this result contributes a billable unit.
func (r EvaluationResult) Billable() bool { return r.BillableUnits > 0 }

// AuditRecord is the durable projection of one evaluation decision:
// the full request context plus the result, keyed by correlation ID so
// any billing decision can be reconstructed later. Records are written
// once and never updated or deleted.
type AuditRecord struct {
	CorrelationID   string    `json:"correlation_id"`
	TaskID          string    `json:"task_id"`
	AgentID         string    `json:"agent_id"`
	SubscriptionRef string    `json:"subscription_ref"`
	IntentHandled   bool      `json:"intent_handled"`
	Adhered         bool      `json:"adhered"`
	BillableUnits   int       `json:"billable_units"`
	ReasonCodes     []string  `json:"reason_codes"`
	Evidence        Evidence  `json:"evidence"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewAuditRecord projects a request and its result into an audit record.
func NewAuditRecord(req EvaluationRequest, res EvaluationResult, at time.Time) AuditRecord {
	return AuditRecord{
		CorrelationID:   res.CorrelationID,
		TaskID:          req.TaskID,
		AgentID:         req.AgentID,
		SubscriptionRef: req.SubscriptionRef,
		IntentHandled:   res.IntentHandled,
		Adhered:         res.Adhered,
		BillableUnits:   res.BillableUnits,
		ReasonCodes:     res.ReasonCodes,
		Evidence:        req.Evidence,
		Timestamp:       at.UTC(),
	}
}
