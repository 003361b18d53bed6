package gates

import (
	"context"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Gate = (*ApprovalGate)(nil)

// ApprovalGate is gate 4: when approval is required, the evidence must
// carry an explicit approved flag. Not required by default; when not
// required it reports skipped, which counts as passed.
type ApprovalGate struct {
	required bool
}

// NewApprovalGate builds the gate.
func NewApprovalGate(required bool) *ApprovalGate {
	return &ApprovalGate{required: required}
}

// Name returns the canonical gate name.
func (g *ApprovalGate) Name() string { return domain.GateApproval }

// Validate checks the gate configuration; the gate has none.
func (g *ApprovalGate) Validate() error { return nil }

// Evaluate applies the approval rule to the evidence.
func (g *ApprovalGate) Evaluate(_ context.Context, ev domain.Evidence) domain.GateResult {
	if !g.required {
		return domain.GateResult{Gate: g.Name(), Status: domain.GateSkipped}
	}
	if ev.Approved {
		return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
	}
	return domain.GateResult{
		Gate:   g.Name(),
		Status: domain.GateFailed,
		Detail: "approval required but not granted",
	}
}
