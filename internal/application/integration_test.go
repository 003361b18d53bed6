package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmarch/metergate/infrastructure/auditstore"
	"github.com/evanmarch/metergate/infrastructure/gates"
	"github.com/evanmarch/metergate/infrastructure/metering"
	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

// TestBillingPipelineEndToEnd walks the full decision-to-submission
// path: four task completions are evaluated, the billable ones are
// recorded against their subscription's hour bucket, and the hour is
// aggregated into a single consolidated usage event.
func TestBillingPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()

	cfg := application.DefaultContractConfig()
	cfg.RequiredOutputKeys = []string{"status", "result"}

	pipeline, err := gates.NewPipeline(cfg)
	require.NoError(t, err)

	store := auditstore.NewMemory()
	evaluator, err := application.NewEvaluator(pipeline, store)
	require.NoError(t, err)

	var submitted []domain.UsageEvent
	engine, err := metering.NewEngine(application.MeterConfig{
		PlanID:     "premium",
		Guardrails: application.GuardrailConfig{HourlyCap: 100, DailyCap: 1000},
	}, ports.SubmitterFunc(func(_ context.Context, event domain.UsageEvent) error {
		submitted = append(submitted, event)
		return nil
	}))
	require.NoError(t, err)

	hour := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	outputs := func(status, result string) map[string]any {
		return map[string]any{"status": status, "result": result}
	}
	requests := []domain.EvaluationRequest{
		{TaskID: "task-001", AgentID: "agent-a", SubscriptionRef: "sub-contoso-001",
			Evidence: domain.Evidence{Outputs: outputs("completed", "invoice filed")}},
		{TaskID: "task-002", AgentID: "agent-a", SubscriptionRef: "sub-contoso-001",
			Evidence: domain.Evidence{Outputs: outputs("completed", "report drafted")}},
		{TaskID: "task-003", AgentID: "agent-b", SubscriptionRef: "sub-contoso-001",
			Evidence: domain.Evidence{Outputs: outputs("failed", "timeout")}},
		{TaskID: "task-004", AgentID: "agent-b", SubscriptionRef: "sub-contoso-001",
			Evidence: domain.Evidence{Outputs: outputs("completed", "tickets triaged")}},
	}

	billable := 0
	for i, req := range requests {
		result, err := evaluator.Evaluate(ctx, req)
		require.NoError(t, err)

		if result.Billable() {
			billable++
			ts := hour.Add(time.Duration(i*10) * time.Minute)
			require.True(t, engine.RecordTaskCompleted(ctx, req.SubscriptionRef, req.TaskID, ts, result.CorrelationID))
		}
	}
	require.Equal(t, 3, billable)

	// Every evaluation left an audit record, billable or not.
	assert.Equal(t, 4, store.Len())

	events, err := engine.AggregateAndSubmit(ctx, "2025-06-01T14:00:00Z", "corr-agg")
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "sub-contoso-001", event.ResourceID)
	assert.Equal(t, domain.Dimension, event.Dimension)
	assert.Equal(t, 3, event.Quantity)
	assert.Equal(t, hour, event.EffectiveStartTime)
	assert.Equal(t, "premium", event.PlanID)
	assert.Equal(t, events, submitted)

	// The non-billable task is reconstructable from the audit trail.
	records, err := store.List(ctx)
	require.NoError(t, err)
	var failed *domain.AuditRecord
	for i := range records {
		if records[i].TaskID == "task-003" {
			failed = &records[i]
		}
	}
	require.NotNil(t, failed)
	assert.Zero(t, failed.BillableUnits)
	assert.Contains(t, failed.ReasonCodes, "terminal_success:failed")
}
