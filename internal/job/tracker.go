// Package job tracks the lifecycle of generation jobs in memory. Exactly one
// pipeline run writes a given job, so the tracker only guarantees that readers
// never observe a half-applied transition.
package job

import (
	"sync"
	"time"

	"github.com/ngqkhai/script-generator/internal/errs"
)

// Status enumerates the job lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of one tracked generation job.
type Job struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"-"`
}

const DefaultRetention = 300 * time.Second

// Tracker is an in-memory job store with retention-based expiry of terminal
// jobs. All mutations happen under one mutex hold and never block on I/O.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

// Option tunes a Tracker.
type Option func(*Tracker)

// WithRetention overrides the terminal-job retention window.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) { t.retention = d }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs:      make(map[string]*Job),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create inserts a new Queued record. Expired terminal jobs are swept first,
// so a reused id only collides while its predecessor is still retained.
func (t *Tracker) Create(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	if _, exists := t.jobs[id]; exists {
		return errs.ErrDuplicateJob
	}
	t.jobs[id] = &Job{
		ID:        id,
		Status:    StatusQueued,
		UpdatedAt: now,
	}
	return nil
}

// Transition overwrites status, progress, and error in one step.
func (t *Tracker) Transition(id string, status Status, progress float64, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.jobs[id]
	if !exists {
		return errs.ErrUnknownJob
	}
	record.Status = status
	record.Progress = progress
	record.Error = errMsg
	record.UpdatedAt = t.now()
	return nil
}

// Get returns a copy of the job, or false when the id is unknown or swept.
func (t *Tracker) Get(id string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *record, true
}

// Delete removes the record immediately, regardless of state.
func (t *Tracker) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// Sweep removes terminal jobs whose last transition is older than the
// retention window and returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now)
}

func (t *Tracker) sweepLocked(now time.Time) int {
	removed := 0
	for id, record := range t.jobs {
		if record.Status.Terminal() && now.Sub(record.UpdatedAt) > t.retention {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked jobs, for diagnostics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
