package job

import (
	"errors"
	"testing"
	"time"

	"github.com/ngqkhai/script-generator/internal/errs"
)

func TestCreateAndTransition(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	record, ok := tracker.Get("job-1")
	if !ok {
		t.Fatal("expected job to be tracked")
	}
	if record.Status != StatusQueued || record.Progress != 0 {
		t.Fatalf("expected fresh queued job, got %+v", record)
	}

	if err := tracker.Transition("job-1", StatusProcessing, 0.1, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	record, _ = tracker.Get("job-1")
	if record.Status != StatusProcessing || record.Progress != 0.1 {
		t.Fatalf("expected processing at 0.1, got %+v", record)
	}
}

func TestCreateDuplicate(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := tracker.Create("job-1"); !errors.Is(err, errs.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Transition("missing", StatusProcessing, 0.1, ""); !errors.Is(err, errs.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestTransitionRecordsError(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := tracker.Transition("job-1", StatusFailed, 0, "backend unavailable"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	record, _ := tracker.Get("job-1")
	if record.Status != StatusFailed || record.Error != "backend unavailable" {
		t.Fatalf("expected failed job with error, got %+v", record)
	}
	if !record.Status.Terminal() {
		t.Fatal("expected failed status to be terminal")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	record, _ := tracker.Get("job-1")
	record.Status = StatusCompleted

	stored, _ := tracker.Get("job-1")
	if stored.Status != StatusQueued {
		t.Fatalf("mutating the snapshot leaked into the tracker: %+v", stored)
	}
}

func TestSweepRemovesExpiredTerminalJobs(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	tracker := NewTracker(WithRetention(5*time.Minute), WithClock(clock))

	for _, id := range []string{"done", "dead", "running"} {
		if err := tracker.Create(id); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}
	if err := tracker.Transition("done", StatusCompleted, 1.0, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := tracker.Transition("dead", StatusFailed, 0, "boom"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	// Inside the retention window nothing expires.
	if removed := tracker.Sweep(now.Add(time.Minute)); removed != 0 {
		t.Fatalf("expected no jobs swept inside retention, got %d", removed)
	}

	// Past the window only terminal jobs go; in-flight jobs stay forever.
	if removed := tracker.Sweep(now.Add(6 * time.Minute)); removed != 2 {
		t.Fatalf("expected 2 jobs swept, got %d", removed)
	}
	if _, ok := tracker.Get("running"); !ok {
		t.Fatal("expected in-flight job to survive the sweep")
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected 1 tracked job, got %d", tracker.Len())
	}
}

func TestCreateSweepsBeforeInsert(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	tracker := NewTracker(WithRetention(time.Minute), WithClock(clock))

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := tracker.Transition("job-1", StatusCompleted, 1.0, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	// Advance past retention; the same id becomes creatable again.
	now = now.Add(2 * time.Minute)
	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("expected expired id to be reusable, got %v", err)
	}

	record, _ := tracker.Get("job-1")
	if record.Status != StatusQueued {
		t.Fatalf("expected fresh queued job after reuse, got %+v", record)
	}
}

func TestDelete(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Create("job-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tracker.Delete("job-1")
	if _, ok := tracker.Get("job-1"); ok {
		t.Fatal("expected job to be gone after delete")
	}
	// Deleting again is a no-op.
	tracker.Delete("job-1")
}
