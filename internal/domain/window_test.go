package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "truncates minutes and seconds",
			in:   time.Date(2025, 6, 1, 14, 35, 59, 123456, time.UTC),
			want: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "already truncated",
			in:   time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "normalizes offset to UTC",
			in:   time.Date(2025, 6, 1, 16, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, HourKey(tt.in).Equal(tt.want))
		})
	}
}

func TestFormatHourWindow(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 45, 12, 0, time.UTC)
	assert.Equal(t, "2025-06-01T14:00:00Z", FormatHourWindow(ts))
}

func TestDayKey(t *testing.T) {
	ts := time.Date(2025, 6, 1, 23, 59, 0, 0, time.FixedZone("behind", -2*3600))
	// 23:59 at UTC-2 is already June 2nd in UTC.
	assert.Equal(t, "2025-06-02", DayKey(ts))
}

func TestParseHourWindow(t *testing.T) {
	tests := []struct {
		name      string
		window    string
		want      time.Time
		wantError bool
	}{
		{
			name:   "canonical hour window",
			window: "2025-06-01T14:00:00Z",
			want:   time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
		{
			name:   "sub-hour precision truncated",
			window: "2025-06-01T14:42:07Z",
			want:   time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
		{
			name:   "offset normalized",
			window: "2025-06-01T16:30:00+02:00",
			want:   time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		},
		{
			name:      "empty window",
			window:    "",
			wantError: true,
		},
		{
			name:      "garbage",
			window:    "not-a-timestamp",
			wantError: true,
		},
		{
			name:      "date only",
			window:    "2025-06-01",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHourWindow(tt.window)
			if tt.wantError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedHourWindow)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestGateResultReasonCode(t *testing.T) {
	r := GateResult{Gate: GateTerminalSuccess, Status: GateFailed, Detail: "status=pending"}
	assert.Equal(t, "terminal_success:failed", r.ReasonCode())
	assert.False(t, r.Satisfied())

	skipped := GateResult{Gate: GateApproval, Status: GateSkipped}
	assert.Equal(t, "approval:skipped", skipped.ReasonCode())
	assert.True(t, skipped.Satisfied())
}

func TestSubmissionErrorUnwrap(t *testing.T) {
	cause := assert.AnError
	err := &SubmissionError{
		ResourceID: "sub-1",
		Hour:       time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		Err:        cause,
	}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "sub-1")
	assert.Contains(t, err.Error(), "2025-06-01T14:00:00Z")
}
