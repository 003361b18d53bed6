package gates

import (
	"context"
	"sort"
	"strings"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Gate = (*OutputValidationGate)(nil)

// OutputValidationGate is gate 3, always required: every output value
// under consideration must be non-nil and non-blank after
// normalization. When a required-key list is configured the gate
// validates only that subset; otherwise it validates every output
// value present.
type OutputValidationGate struct {
	requiredKeys []string
}

// NewOutputValidationGate builds the gate. requiredKeys mirrors the
// required-outputs gate configuration; pass nil to validate all
// outputs.
func NewOutputValidationGate(requiredKeys []string) *OutputValidationGate {
	return &OutputValidationGate{requiredKeys: append([]string(nil), requiredKeys...)}
}

// Name returns the canonical gate name.
func (g *OutputValidationGate) Name() string { return domain.GateOutputValidation }

// Validate checks the gate configuration; the gate has none.
func (g *OutputValidationGate) Validate() error { return nil }

// Evaluate applies the output validation rule to the evidence.
func (g *OutputValidationGate) Evaluate(_ context.Context, ev domain.Evidence) domain.GateResult {
	var invalid []string

	if len(g.requiredKeys) > 0 {
		for _, key := range g.requiredKeys {
			if v, ok := ev.Outputs[key]; ok && isEmptyValue(v) {
				invalid = append(invalid, key)
			}
		}
	} else {
		for key, v := range ev.Outputs {
			if isEmptyValue(v) {
				invalid = append(invalid, key)
			}
		}
		// Map iteration order is random; keep details deterministic.
		sort.Strings(invalid)
	}

	if len(invalid) > 0 {
		return domain.GateResult{
			Gate:   g.Name(),
			Status: domain.GateFailed,
			Detail: "invalid=" + strings.Join(invalid, ","),
		}
	}
	return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
}
