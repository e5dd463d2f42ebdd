// Package progress is the in-memory progress fabric for long-running
// operations. One process-wide Tracker maps operation keys to records;
// updates are O(1) under a short-held lock and readers get snapshots.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation statuses.
const (
	StatusStarting  = "starting"
	StatusIndexing  = "indexing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Error kinds carried by failed records.
const (
	ErrKindCancelled = "cancelled"
	ErrKindTimeout   = "timeout"
	ErrKindError     = "error"
)

// terminalTTL is how long completed/failed records are retained.
const terminalTTL = time.Hour

// Record is a snapshot of a long-running operation's state.
type Record struct {
	OperationID string     `json:"operation_id"`
	Project     string     `json:"project"`
	Dataset     string     `json:"dataset,omitempty"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase,omitempty"`
	Expected    int        `json:"expected"`
	Stored      int        `json:"stored"`
	Percent     int        `json:"percent"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
}

// Terminal reports whether the record reached a final status.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// IndexKey is the canonical operation key for indexing a (project, dataset).
func IndexKey(project, dataset string) string {
	return project + "/" + dataset
}

// Tracker is the process-wide progress map.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*entry
	now     func() time.Time
}

type entry struct {
	record Record
	mapper *Mapper
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*entry),
		now:     time.Now,
	}
}

// Start registers a new operation and returns its initial snapshot. A key
// whose record is still in flight keeps its record, so a multi-stage
// operation (crawl, then index) reports as one; terminal records are reset.
func (t *Tracker) Start(key, project, dataset string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.records[key]; ok && !e.record.Terminal() {
		return e.record
	}

	rec := Record{
		OperationID: key,
		Project:     project,
		Dataset:     dataset,
		Status:      StatusStarting,
		Phase:       PhaseInitializing,
		StartedAt:   t.now(),
	}
	t.records[key] = &entry{record: rec, mapper: NewMapper()}
	return rec
}

// Update applies fn to the record under the lock. Missing keys are ignored.
// The stored counter never decreases and expected never drops below stored.
func (t *Tracker) Update(key string, fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.records[key]
	if !ok {
		return
	}
	prevStored := e.record.Stored
	fn(&e.record)
	if e.record.Stored < prevStored {
		e.record.Stored = prevStored
	}
	if e.record.Expected < e.record.Stored {
		e.record.Expected = e.record.Stored
	}
}

// SetPhase records the current phase and maps phase-local progress (0-100)
// to a monotonic overall percentage.
func (t *Tracker) SetPhase(key, phase string, phaseProgress int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.records[key]
	if !ok {
		return
	}
	e.record.Phase = phase
	e.record.Percent = e.mapper.Map(phase, phaseProgress)
	if e.record.Status == StatusStarting && phase != PhaseInitializing {
		e.record.Status = StatusIndexing
	}
}

// Complete marks the operation completed.
func (t *Tracker) Complete(key string) {
	t.terminate(key, StatusCompleted, "", "")
}

// Fail marks the operation failed with the given error. Context
// cancellation and deadline expiry get distinguished error kinds.
func (t *Tracker) Fail(key string, err error) {
	kind := ErrKindError
	msg := ""
	if err != nil {
		msg = err.Error()
		switch {
		case errors.Is(err, context.Canceled):
			kind = ErrKindCancelled
		case errors.Is(err, context.DeadlineExceeded):
			kind = ErrKindTimeout
		}
	}
	t.terminate(key, StatusFailed, msg, kind)
}

func (t *Tracker) terminate(key, status, errMsg, errKind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.records[key]
	if !ok {
		return
	}
	if e.record.Terminal() {
		return
	}
	now := t.now()
	e.record.Status = status
	e.record.EndedAt = &now
	e.record.Error = errMsg
	e.record.ErrorKind = errKind
	if status == StatusCompleted {
		e.record.Phase = PhaseCompleted
		e.record.Percent = e.mapper.Map(PhaseCompleted, 100)
	}
}

// Get returns a snapshot of one record.
func (t *Tracker) Get(key string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.records[key]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// List returns snapshots of all records, optionally only non-terminal ones.
func (t *Tracker) List(activeOnly bool) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, e := range t.records {
		if activeOnly && e.record.Terminal() {
			continue
		}
		out = append(out, e.record)
	}
	return out
}

// ListForProject returns snapshots for one project.
func (t *Tracker) ListForProject(project string, activeOnly bool) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, 4)
	for _, e := range t.records {
		if e.record.Project != project {
			continue
		}
		if activeOnly && e.record.Terminal() {
			continue
		}
		out = append(out, e.record)
	}
	return out
}

// Clear removes a record.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key)
}

// Sweep evicts terminal records older than the retention TTL and returns
// the number removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := t.now().Add(-terminalTTL)
	for key, e := range t.records {
		if e.record.Terminal() && e.record.EndedAt != nil && e.record.EndedAt.Before(cutoff) {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}

// RunSweeper evicts expired records every interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
