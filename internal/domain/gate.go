package domain

// Canonical gate names, in pipeline order. The names are part of the
// external reason-code format and must not change.
const (
	GateIntentResolution = "intent_resolution"
	GateTerminalSuccess  = "terminal_success"
	GateRequiredOutputs  = "required_outputs"
	GateOutputValidation = "output_validation"
	GateApproval         = "approval"
)

// GateCount is the fixed number of gates in the adherence pipeline.
const GateCount = 5

// GateStatus is the outcome of a single gate evaluation.
type GateStatus string

const (
	// GatePassed means the gate's condition held.
	GatePassed GateStatus = "passed"

	// GateFailed means the gate's condition did not hold. Failure is a
	// normal business outcome, never a Go error.
	GateFailed GateStatus = "failed"

	// GateSkipped means the gate was disabled by configuration. A
	// skipped gate counts as passed for the billing decision.
	GateSkipped GateStatus = "skipped"
)

// GateResult records the outcome of one gate for one piece of evidence.
type GateResult struct {
	// Gate is the canonical gate name.
	Gate string `json:"gate"`

	// Status is the gate outcome.
	Status GateStatus `json:"status"`

	// Detail optionally explains a failure (e.g. which keys were
	// missing). It is carried in audit logs but never in the reason
	// code, whose format is fixed.
	Detail string `json:"detail,omitempty"`
}

// Satisfied reports whether the gate counts as passed for the billing
// decision. Skipped gates are satisfied.
func (r GateResult) Satisfied() bool { return r.Status != GateFailed }

// ReasonCode renders the result in the audit trail's fixed
// "<gate>:<status>" format.
func (r GateResult) ReasonCode() string { return r.Gate + ":" + string(r.Status) }
