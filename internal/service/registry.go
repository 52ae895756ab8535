package service

import (
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

const defaultRegistryCapacity = 200

// RunRegistry tracks active and recent runs thread-safely in memory.
type RunRegistry struct {
	mu       sync.RWMutex
	runs     map[string]*schemas.FlowReport
	capacity int
}

func NewRunRegistry(capacity int) *RunRegistry {
	if capacity <= 0 {
		capacity = defaultRegistryCapacity
	}
	return &RunRegistry{runs: make(map[string]*schemas.FlowReport), capacity: capacity}
}

// Register records a pending run.
func (r *RunRegistry) Register(id, startURL string) schemas.FlowReport {
	report := &schemas.FlowReport{
		RunID:     id,
		StartURL:  startURL,
		Status:    schemas.RunPending,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = report
	r.evictLocked()
	return *report
}

// MarkRunning moves a pending run to running. Finished runs are left alone.
func (r *RunRegistry) MarkRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if report, ok := r.runs[id]; ok && report.Status == schemas.RunPending {
		report.Status = schemas.RunRunning
	}
}

// Complete stores the final report of a run.
func (r *RunRegistry) Complete(report schemas.FlowReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[report.RunID]; ok && report.StartedAt.IsZero() {
		report.StartedAt = existing.StartedAt
	}
	r.runs[report.RunID] = &report
	r.evictLocked()
}

func (r *RunRegistry) Get(id string) (schemas.FlowReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.runs[id]
	if !ok {
		return schemas.FlowReport{}, false
	}
	return *report, true
}

// List returns every tracked run, newest first.
func (r *RunRegistry) List() []schemas.FlowReport {
	r.mu.RLock()
	out := make([]schemas.FlowReport, 0, len(r.runs))
	for _, report := range r.runs {
		out = append(out, *report)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// evictLocked drops the oldest finished runs beyond capacity. Unfinished runs
// are never evicted.
func (r *RunRegistry) evictLocked() {
	excess := len(r.runs) - r.capacity
	if excess <= 0 {
		return
	}
	finished := make([]*schemas.FlowReport, 0, len(r.runs))
	for _, report := range r.runs {
		if report.Status == schemas.RunCompleted || report.Status == schemas.RunFailed {
			finished = append(finished, report)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for i := 0; i < excess && i < len(finished); i++ {
		delete(r.runs, finished[i].RunID)
	}
}
