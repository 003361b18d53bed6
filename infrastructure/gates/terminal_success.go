package gates

import (
	"context"

	"golang.org/x/text/cases"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Gate = (*TerminalSuccessGate)(nil)

// successStatuses are the status output values recognized as a
// successful terminal state, compared after Unicode case folding.
var successStatuses = map[string]struct{}{
	"completed": {},
	"success":   {},
}

// TerminalSuccessGate is gate 1, always required: the task must have
// reached a terminal success state. Either an explicit truthy
// terminal_success output or a recognized status value passes; any
// other or missing state fails.
type TerminalSuccessGate struct {
	folder cases.Caser
}

// NewTerminalSuccessGate builds the gate.
func NewTerminalSuccessGate() *TerminalSuccessGate {
	return &TerminalSuccessGate{folder: cases.Fold()}
}

// Name returns the canonical gate name.
func (g *TerminalSuccessGate) Name() string { return domain.GateTerminalSuccess }

// Validate checks the gate configuration; the gate has none.
func (g *TerminalSuccessGate) Validate() error { return nil }

// Evaluate applies the terminal success rule to the evidence.
func (g *TerminalSuccessGate) Evaluate(_ context.Context, ev domain.Evidence) domain.GateResult {
	if isTruthy(ev.Outputs["terminal_success"]) {
		return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
	}

	if status, ok := ev.Outputs["status"].(string); ok {
		if _, recognized := successStatuses[g.folder.String(status)]; recognized {
			return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
		}
		return domain.GateResult{
			Gate:   g.Name(),
			Status: domain.GateFailed,
			Detail: "status=" + status,
		}
	}

	return domain.GateResult{
		Gate:   g.Name(),
		Status: domain.GateFailed,
		Detail: "no terminal success signal",
	}
}
