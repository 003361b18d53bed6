// Package auditstore provides audit record persistence for evaluation
// decisions. The in-memory implementation covers a single process
// lifetime; durable backends can replace it behind ports.AuditStore
// without touching the evaluator.
package auditstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/evanmarch/metergate/internal/domain"
	"github.com/evanmarch/metergate/internal/ports"
)

var _ ports.AuditStore = (*Memory)(nil)

// Memory is a mutex-guarded, insertion-ordered audit store. Records
// are insert-once per correlation ID and never updated or deleted, so
// every billing decision remains reconstructable for the life of the
// process.
type Memory struct {
	mu      sync.RWMutex
	records map[string]domain.AuditRecord
	order   []string
}

// NewMemory creates an empty in-memory audit store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]domain.AuditRecord)}
}

// Insert stores a record, failing on a reused correlation ID. The
// existence check and the write happen under one lock so the
// insert-once contract holds under concurrent use.
func (s *Memory) Insert(_ context.Context, record domain.AuditRecord) error {
	if record.CorrelationID == "" {
		return fmt.Errorf("audit record requires a correlation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.CorrelationID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateCorrelationID, record.CorrelationID)
	}
	s.records[record.CorrelationID] = record
	s.order = append(s.order, record.CorrelationID)
	return nil
}

// Get returns the record for a correlation ID.
func (s *Memory) Get(_ context.Context, correlationID string) (domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[correlationID]; ok {
		return record, nil
	}
	return domain.AuditRecord{}, fmt.Errorf("%w: %s", domain.ErrAuditRecordNotFound, correlationID)
}

// List returns a snapshot of all records in insertion order.
func (s *Memory) List(_ context.Context) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
