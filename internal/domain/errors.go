package domain

import (
	"errors"
	"fmt"
	"time"
)

// Errors surfaced by the metering core. A task failing the adherence
// gates or being rejected by a guardrail cap is never an error; these
// cover the rarer genuine failure conditions.
var (
	// ErrMalformedHourWindow indicates an hour-window string that could
	// not be parsed. Fatal for the affected call only; no state mutates.
	ErrMalformedHourWindow = errors.New("malformed hour window")

	// ErrDuplicateCorrelationID indicates a second insert under an
	// already-used correlation ID. Correlation IDs are generated per
	// evaluation, so this signals a caller bug; the store refuses the
	// write to protect audit integrity.
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")

	// ErrAuditRecordNotFound indicates a lookup for a correlation ID
	// that was never recorded.
	ErrAuditRecordNotFound = errors.New("audit record not found")
)

// SubmissionError reports a usage event the external submitter refused.
// The affected (subscription, hour) bucket stays unsubmitted and its
// pending tasks intact, so a later AggregateAndSubmit retries it.
type SubmissionError struct {
	// ResourceID is the subscription whose event failed.
	ResourceID string

	// Hour is the bucket the failed event covered.
	Hour time.Time

	// Err is the failure signaled by the submitter.
	Err error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("usage submission failed for %s at %s: %v",
		e.ResourceID, FormatHourWindow(e.Hour), e.Err)
}

// Unwrap returns the submitter's underlying error.
func (e *SubmissionError) Unwrap() error { return e.Err }
