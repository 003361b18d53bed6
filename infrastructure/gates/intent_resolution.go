package gates

import (
	"context"
	"fmt"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Gate = (*IntentResolutionGate)(nil)

// scoreKey is the evaluator score consulted before any other intent
// signal.
const scoreKey = "intent_resolution"

// IntentResolutionGate is gate 0: the user's intent must have been
// identified and resolved. Disabled by default; when disabled it
// reports skipped, which counts as handled.
//
// When enabled, the signals are consulted in a fixed order. A supplied
// intent_resolution score is authoritative: below-threshold scores fail
// the gate even if a query/response exchange is present. Without a
// score, an explicit intent_handled output flag or a non-blank
// query/response pair passes.
type IntentResolutionGate struct {
	enabled   bool
	threshold float64
}

// NewIntentResolutionGate builds the gate. The threshold applies only
// to evidence carrying evaluator scores and must not be negative.
func NewIntentResolutionGate(enabled bool, threshold float64) *IntentResolutionGate {
	return &IntentResolutionGate{enabled: enabled, threshold: threshold}
}

// Name returns the canonical gate name.
func (g *IntentResolutionGate) Name() string { return domain.GateIntentResolution }

// Validate checks the gate configuration.
func (g *IntentResolutionGate) Validate() error {
	if g.threshold < 0 {
		return fmt.Errorf("intent resolution threshold cannot be negative, got %g", g.threshold)
	}
	return nil
}

// Evaluate applies the intent resolution rule to the evidence.
func (g *IntentResolutionGate) Evaluate(_ context.Context, ev domain.Evidence) domain.GateResult {
	if !g.enabled {
		return domain.GateResult{Gate: g.Name(), Status: domain.GateSkipped}
	}

	if score, ok := ev.Scores[scoreKey]; ok {
		if score >= g.threshold {
			return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
		}
		return domain.GateResult{
			Gate:   g.Name(),
			Status: domain.GateFailed,
			Detail: fmt.Sprintf("score %g below threshold %g", score, g.threshold),
		}
	}

	if isTruthy(ev.Outputs["intent_handled"]) {
		return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
	}

	if ev.HasIntentExchange() {
		return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
	}

	return domain.GateResult{
		Gate:   g.Name(),
		Status: domain.GateFailed,
		Detail: "no intent resolution evidence",
	}
}
