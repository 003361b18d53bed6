package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.Gate = (*RequiredOutputsGate)(nil)

// RequiredOutputsGate is gate 2: every configured output key must be
// present in the evidence outputs. Presence is all that matters here;
// value quality belongs to the output validation gate. An empty key
// list disables the gate.
type RequiredOutputsGate struct {
	keys []string
}

// NewRequiredOutputsGate builds the gate over the configured key list.
// The slice is copied so later caller mutation cannot change gate
// behavior.
func NewRequiredOutputsGate(keys []string) *RequiredOutputsGate {
	return &RequiredOutputsGate{keys: append([]string(nil), keys...)}
}

// Name returns the canonical gate name.
func (g *RequiredOutputsGate) Name() string { return domain.GateRequiredOutputs }

// Validate checks the gate configuration.
func (g *RequiredOutputsGate) Validate() error {
	for _, k := range g.keys {
		if k == "" {
			return fmt.Errorf("required output key cannot be empty")
		}
	}
	return nil
}

// Keys returns the configured required keys in order.
func (g *RequiredOutputsGate) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Evaluate applies the required-outputs rule to the evidence.
func (g *RequiredOutputsGate) Evaluate(_ context.Context, ev domain.Evidence) domain.GateResult {
	if len(g.keys) == 0 {
		return domain.GateResult{Gate: g.Name(), Status: domain.GateSkipped}
	}

	var missing []string
	for _, key := range g.keys {
		if _, ok := ev.Outputs[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return domain.GateResult{
			Gate:   g.Name(),
			Status: domain.GateFailed,
			Detail: "missing=" + strings.Join(missing, ","),
		}
	}
	return domain.GateResult{Gate: g.Name(), Status: domain.GatePassed}
}
