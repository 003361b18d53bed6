// Package taskmeter collects per-task token usage for agent workloads.
// It is operational accounting, not billing: records feed capacity and
// cost review, while billable decisions stay with the evaluator and
// the metering engine.
package taskmeter

import (
	"sort"
	"sync"
	"time"
)

// Record is one metered agent task. EndTime stays zero while the task
// is in flight.
type Record struct {
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	TaskType     string         `json:"task_type"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TotalTokens returns the combined input and output token count.
func (r Record) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Duration returns how long the task ran. The second return is false
// while the task has no end time yet.
func (r Record) Duration() (time.Duration, bool) {
	if r.EndTime.IsZero() {
		return 0, false
	}
	return r.EndTime.Sub(r.StartTime), true
}

// Summary is the aggregate view over every metered task.
type Summary struct {
	TotalTasks  int      `json:"total_tasks"`
	TotalTokens int      `json:"total_tokens"`
	Agents      []string `json:"agents"`
}

// Meter accumulates task records for the life of the process. Safe for
// concurrent use.
type Meter struct {
	mu      sync.RWMutex
	now     func() time.Time
	records []Record
}

// Option configures optional meter dependencies.
type Option func(*Meter)

// WithClock overrides the meter's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// NewMeter creates an empty task meter.
func NewMeter(opts ...Option) *Meter {
	m := &Meter{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends a task record, defaulting a zero StartTime to now,
// and returns the stored record.
func (m *Meter) Record(rec Record) Record {
	if rec.StartTime.IsZero() {
		rec.StartTime = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return rec
}

// TotalTokens returns the token sum across every recorded task.
func (m *Meter) TotalTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, r := range m.records {
		total += r.TotalTokens()
	}
	return total
}

// RecordsForAgent returns all records for one agent, in recording
// order.
func (m *Meter) RecordsForAgent(agentID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out
}

// Records returns a snapshot of every record in recording order.
func (m *Meter) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records...)
}

// Summary aggregates all recorded tasks. Agents are sorted so the
// summary is deterministic.
func (m *Meter) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	total := 0
	for _, r := range m.records {
		seen[r.AgentID] = struct{}{}
		total += r.TotalTokens()
	}

	agents := make([]string, 0, len(seen))
	for agent := range seen {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	return Summary{
		TotalTasks:  len(m.records),
		TotalTokens: total,
		Agents:      agents,
	}
}
