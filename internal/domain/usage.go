package domain

import "time"

// Dimension is the single billing dimension this system reports. Every
// usage event carries exactly this value.
const Dimension = "task_completed"

// UsageEvent is one consolidated marketplace usage record: the count of
// distinct billable tasks for one subscription within one UTC hour.
// The JSON field names follow the marketplace metering API and must not
// change. Events are never mutated after emission.
type UsageEvent struct {
	// ResourceID is the subscription or resource the usage bills to.
	ResourceID string `json:"resourceId"`

	// Dimension is always the task-completed dimension.
	Dimension string `json:"dimension"`

	// Quantity is the number of distinct billable tasks in the bucket.
	// Always positive; empty buckets emit nothing.
	Quantity int `json:"quantity"`

	// EffectiveStartTime is the UTC hour the usage belongs to,
	// truncated to the hour.
	EffectiveStartTime time.Time `json:"effectiveStartTime"`

	// PlanID is the marketplace plan the subscription is on.
	PlanID string `json:"planId"`
}

// CapType identifies which guardrail cap a recording breached.
type CapType string

const (
	// CapHourly is the per-subscription, per-hour admission cap.
	CapHourly CapType = "hourly"

	// CapDaily is the per-subscription, per-UTC-day admission cap.
	CapDaily CapType = "daily"
)

// AnomalyRecord is appended whenever a guardrail cap rejects a task.
// Anomalies exist for operational review; a rejection is not an error.
type AnomalyRecord struct {
	SubscriptionRef string  `json:"subscription_ref"`
	TaskID          string  `json:"task_id"`
	CapType         CapType `json:"cap_type"`

	// CapValue is the configured cap that was exceeded.
	CapValue int `json:"cap_value"`

	// ActualValue is the distinct-task count already admitted when the
	// rejection happened.
	ActualValue int `json:"actual_value"`

	// CorrelationID threads the rejection back to the evaluation that
	// produced the task, when the caller supplied one.
	CorrelationID string `json:"correlation_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
