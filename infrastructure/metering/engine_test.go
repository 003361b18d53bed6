package metering

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

const (
	testSub    = "sub-contoso-001"
	testWindow = "2025-06-01T14:00:00Z"
)

var testHour = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

// recordingSubmitter captures submitted events and can be told to fail.
type recordingSubmitter struct {
	events []domain.UsageEvent
	fail   error
}

func (s *recordingSubmitter) Submit(_ context.Context, event domain.UsageEvent) error {
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func newTestEngine(t *testing.T, cfg application.MeterConfig, submitter ports.Submitter) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, submitter)
	require.NoError(t, err)
	return engine
}

func dryRunConfig() application.MeterConfig {
	return application.MeterConfig{DryRun: true, PlanID: "basic"}
}

func TestNewEngineValidation(t *testing.T) {
	t.Run("negative cap rejected", func(t *testing.T) {
		_, err := NewEngine(application.MeterConfig{
			DryRun:     true,
			Guardrails: application.GuardrailConfig{HourlyCap: -1},
		}, nil)
		assert.Error(t, err)
	})

	t.Run("live mode requires a submitter", func(t *testing.T) {
		_, err := NewEngine(application.MeterConfig{DryRun: false}, nil)
		assert.Error(t, err)
	})

	t.Run("dry run needs no submitter", func(t *testing.T) {
		engine, err := NewEngine(dryRunConfig(), nil)
		require.NoError(t, err)
		assert.True(t, engine.DryRun())
	})
}

func TestRecordTaskCompletedIdempotent(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, "corr-1"))
	assert.False(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, "corr-2"))

	// Same task at a different minute of the same hour is still the
	// same bucket.
	assert.False(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour.Add(42*time.Minute), "corr-3"))

	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
	assert.Empty(t, engine.Anomalies())
}

func TestRecordTaskCompletedSeparatesHoursAndSubscriptions(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour.Add(time.Hour), ""))
	assert.True(t, engine.RecordTaskCompleted(ctx, "sub-other-002", "task-001", testHour, ""))

	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	qty, err = engine.PendingQuantity(testSub, "2025-06-01T15:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	qty, err = engine.PendingQuantity("sub-other-002", testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
}

func TestRecordTaskCompletedDefaultsTimestamp(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	engine.now = func() time.Time { return testHour.Add(17 * time.Minute) }

	assert.True(t, engine.RecordTaskCompleted(context.Background(), testSub, "task-001", time.Time{}, ""))

	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
}

func TestHourlyCapEnforcement(t *testing.T) {
	cfg := dryRunConfig()
	cfg.Guardrails.HourlyCap = 100
	engine := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	admitted, rejected := 0, 0
	for i := 0; i < 150; i++ {
		if engine.RecordTaskCompleted(ctx, testSub, fmt.Sprintf("task-%03d", i), testHour, "") {
			admitted++
		} else {
			rejected++
		}
	}

	assert.Equal(t, 100, admitted)
	assert.Equal(t, 50, rejected)

	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 100, qty)

	anomalies := engine.Anomalies()
	require.Len(t, anomalies, 50)
	for _, a := range anomalies {
		assert.Equal(t, domain.CapHourly, a.CapType)
		assert.Equal(t, 100, a.CapValue)
		assert.Equal(t, 100, a.ActualValue)
		assert.Equal(t, testSub, a.SubscriptionRef)
	}

	// The next hour starts a fresh budget.
	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-next-hour", testHour.Add(time.Hour), ""))
}

func TestDailyCapEnforcement(t *testing.T) {
	cfg := dryRunConfig()
	cfg.Guardrails.DailyCap = 3
	engine := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	// Spread across hours so only the daily cap can trip.
	for i := 0; i < 3; i++ {
		ts := testHour.Add(time.Duration(i) * time.Hour)
		assert.True(t, engine.RecordTaskCompleted(ctx, testSub, fmt.Sprintf("task-%d", i), ts, ""))
	}
	assert.False(t, engine.RecordTaskCompleted(ctx, testSub, "task-over", testHour.Add(3*time.Hour), ""))

	anomalies := engine.Anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.CapDaily, anomalies[0].CapType)
	assert.Equal(t, 3, anomalies[0].CapValue)
	assert.Equal(t, 3, anomalies[0].ActualValue)

	// A new UTC day resets the counter.
	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-tomorrow", testHour.Add(24*time.Hour), ""))
}

func TestHourlyCapCheckedBeforeDaily(t *testing.T) {
	cfg := dryRunConfig()
	cfg.Guardrails.HourlyCap = 1
	cfg.Guardrails.DailyCap = 1
	engine := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	assert.False(t, engine.RecordTaskCompleted(ctx, testSub, "task-002", testHour, ""))

	anomalies := engine.Anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, domain.CapHourly, anomalies[0].CapType)
}

func TestZeroCapMeansUnlimited(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		require.True(t, engine.RecordTaskCompleted(ctx, testSub, fmt.Sprintf("task-%03d", i), testHour, ""))
	}
	assert.Empty(t, engine.Anomalies())
}

func TestDuplicateNeverCountsAgainstCaps(t *testing.T) {
	cfg := dryRunConfig()
	cfg.Guardrails.HourlyCap = 1
	engine := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	assert.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	// Replay of an admitted task is a duplicate, not a cap anomaly.
	assert.False(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	assert.Empty(t, engine.Anomalies())
}

func TestAggregateAndSubmitDryRun(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		ts := testHour.Add(time.Duration(i*4) * time.Minute)
		require.True(t, engine.RecordTaskCompleted(ctx, testSub, fmt.Sprintf("task-%03d", i), ts, ""))
	}

	events, err := engine.AggregateAndSubmit(ctx, testWindow, "corr-agg")
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, testSub, event.ResourceID)
	assert.Equal(t, domain.Dimension, event.Dimension)
	assert.Equal(t, 12, event.Quantity)
	assert.Equal(t, testHour, event.EffectiveStartTime)
	assert.Equal(t, "basic", event.PlanID)

	// Submission drains the pending view.
	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Zero(t, qty)

	// Repeating the window emits nothing.
	again, err := engine.AggregateAndSubmit(ctx, testWindow, "corr-agg-2")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAggregateAndSubmitLive(t *testing.T) {
	submitter := &recordingSubmitter{}
	engine := newTestEngine(t, application.MeterConfig{PlanID: "premium"}, submitter)
	ctx := context.Background()

	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	require.True(t, engine.RecordTaskCompleted(ctx, "sub-aaa-000", "task-001", testHour, ""))

	events, err := engine.AggregateAndSubmit(ctx, testWindow, "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Deterministic subscription order within the window.
	assert.Equal(t, "sub-aaa-000", events[0].ResourceID)
	assert.Equal(t, testSub, events[1].ResourceID)
	assert.Equal(t, events, submitter.events)
}

func TestAggregateAndSubmitIgnoresOtherWindows(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-002", testHour.Add(time.Hour), ""))

	events, err := engine.AggregateAndSubmit(ctx, testWindow, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Quantity)

	// The untouched hour is still pending.
	qty, err := engine.PendingQuantity(testSub, "2025-06-01T15:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
}

func TestAggregateAndSubmitEmptyWindow(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)

	events, err := engine.AggregateAndSubmit(context.Background(), testWindow, "")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAggregateAndSubmitMalformedWindow(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()
	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))

	for _, window := range []string{"", "not-a-time", "2025-06-01", "2025-06-01 14:00:00"} {
		_, err := engine.AggregateAndSubmit(ctx, window, "")
		assert.ErrorIs(t, err, domain.ErrMalformedHourWindow, "window %q", window)
	}

	// Nothing was mutated by the failed calls.
	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
}

func TestAggregateAndSubmitAcceptsNonCanonicalWindow(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()
	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))

	// Offset and sub-hour precision normalize to the same bucket.
	events, err := engine.AggregateAndSubmit(ctx, "2025-06-01T16:30:00+02:00", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, testHour, events[0].EffectiveStartTime)
}

func TestSubmissionFailureKeepsBucketForRetry(t *testing.T) {
	submitter := &recordingSubmitter{fail: errors.New("marketplace unavailable")}
	engine := newTestEngine(t, application.MeterConfig{PlanID: "basic"}, submitter)
	ctx := context.Background()

	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour, ""))
	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-002", testHour, ""))

	events, err := engine.AggregateAndSubmit(ctx, testWindow, "")
	require.Error(t, err)
	assert.Empty(t, events)

	var subErr *domain.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, testSub, subErr.ResourceID)
	assert.Equal(t, testHour, subErr.Hour)

	// The bucket stays pending and the retry succeeds with the full
	// quantity.
	qty, err := engine.PendingQuantity(testSub, testWindow)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	submitter.fail = nil
	events, err = engine.AggregateAndSubmit(ctx, testWindow, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Quantity)
}

func TestSubmissionFailureStopsMidBatch(t *testing.T) {
	calls := 0
	submitter := ports.SubmitterFunc(func(_ context.Context, _ domain.UsageEvent) error {
		calls++
		if calls > 1 {
			return errors.New("quota exceeded")
		}
		return nil
	})
	engine := newTestEngine(t, application.MeterConfig{}, submitter)
	ctx := context.Background()

	require.True(t, engine.RecordTaskCompleted(ctx, "sub-aaa-000", "task-001", testHour, ""))
	require.True(t, engine.RecordTaskCompleted(ctx, "sub-bbb-111", "task-001", testHour, ""))

	events, err := engine.AggregateAndSubmit(ctx, testWindow, "")
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sub-aaa-000", events[0].ResourceID)

	// Only the failed bucket remains pending.
	qty, err := engine.PendingQuantity("sub-aaa-000", testWindow)
	require.NoError(t, err)
	assert.Zero(t, qty)

	qty, err = engine.PendingQuantity("sub-bbb-111", testWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)
}

func TestAggregateAllPending(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	ctx := context.Background()

	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-001", testHour.Add(time.Hour), ""))
	require.True(t, engine.RecordTaskCompleted(ctx, testSub, "task-002", testHour, ""))
	require.True(t, engine.RecordTaskCompleted(ctx, "sub-aaa-000", "task-001", testHour, ""))

	events, err := engine.AggregateAllPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Ordered by hour window, then subscription.
	assert.Equal(t, "sub-aaa-000", events[0].ResourceID)
	assert.Equal(t, testHour, events[0].EffectiveStartTime)
	assert.Equal(t, testSub, events[1].ResourceID)
	assert.Equal(t, testHour, events[1].EffectiveStartTime)
	assert.Equal(t, testSub, events[2].ResourceID)
	assert.Equal(t, testHour.Add(time.Hour), events[2].EffectiveStartTime)

	again, err := engine.AggregateAllPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPendingQuantityMalformedWindow(t *testing.T) {
	engine := newTestEngine(t, dryRunConfig(), nil)
	_, err := engine.PendingQuantity(testSub, "garbage")
	assert.ErrorIs(t, err, domain.ErrMalformedHourWindow)
}
