// Package ports defines the interfaces between the domain/application
// layers and infrastructure. They enable dependency inversion and keep
// the billing core testable against fakes.
package ports

import (
	"context"

	"github.com/evanmarch/metergate/internal/domain"
)

// Gate is one deterministic adherence check. Gates are stateless and
// safe for unlimited concurrent use; the same evidence always yields
// the same result. A gate never returns a Go error from evaluation;
// business failure is expressed through the result status, so the
// pipeline can always run every gate and collect a complete trail.
type Gate interface {
	// Name returns the canonical gate name used in reason codes.
	Name() string

	// Evaluate applies the gate's rule to the evidence.
	Evaluate(ctx context.Context, ev domain.Evidence) domain.GateResult

	// Validate checks the gate's configuration. It is called during
	// pipeline construction, before any evaluation runs.
	Validate() error
}
