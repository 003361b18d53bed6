package gates

import (
	"fmt"

	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/ports"
)

// NewPipeline constructs the ordered adherence pipeline from contract
// configuration. The order is fixed (intent resolution, terminal
// success, required outputs, output validation, approval) and every
// gate is validated before the pipeline is returned.
func NewPipeline(cfg application.ContractConfig) ([]ports.Gate, error) {
	pipeline := []ports.Gate{
		NewIntentResolutionGate(cfg.RequireIntentResolution, cfg.IntentResolutionThreshold),
		NewTerminalSuccessGate(),
		NewRequiredOutputsGate(cfg.RequiredOutputKeys),
		NewOutputValidationGate(cfg.RequiredOutputKeys),
		NewApprovalGate(cfg.RequireApproval),
	}

	for _, gate := range pipeline {
		if err := gate.Validate(); err != nil {
			return nil, fmt.Errorf("gate %s: %w", gate.Name(), err)
		}
	}
	return pipeline, nil
}
