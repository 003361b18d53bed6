package ports

import (
	"context"

	"github.com/evanmarch/metergate/internal/domain"
)

// AuditStore persists evaluation decisions keyed by correlation ID.
// Records are insert-once: a second insert under the same ID must fail
// with domain.ErrDuplicateCorrelationID, enforced atomically per ID.
// Implementations own record durability; the core only guarantees one
// write per evaluation.
type AuditStore interface {
	// Insert stores a record. Returns domain.ErrDuplicateCorrelationID
	// if the correlation ID was already used.
	Insert(ctx context.Context, record domain.AuditRecord) error

	// Get returns the record for a correlation ID, or
	// domain.ErrAuditRecordNotFound.
	Get(ctx context.Context, correlationID string) (domain.AuditRecord, error)

	// List returns all records in insertion order. The result is a
	// snapshot; mutating it does not affect the store.
	List(ctx context.Context) ([]domain.AuditRecord, error)
}

// Submitter delivers one consolidated usage event to the external
// billing marketplace. Returning nil means the marketplace accepted the
// event; any error leaves the event's bucket retryable. Retry and
// timeout policy inside a submitter is its own concern, not the
// engine's.
type Submitter interface {
	Submit(ctx context.Context, event domain.UsageEvent) error
}

// SubmitterFunc adapts a plain function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, event domain.UsageEvent) error

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, event domain.UsageEvent) error {
	return f(ctx, event)
}
