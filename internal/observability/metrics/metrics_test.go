package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"labrun/internal/scheduler"
	"labrun/pkg/measure"
)

// Recorder must satisfy the scheduler's hook interface.
var _ scheduler.Metrics = (*Recorder)(nil)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()
	r := NewRecorder()

	r.RunQueued()
	r.RunQueued()
	r.SetQueuedLength(2)
	r.RunDone(measure.StatusFinished, 3*time.Second)
	r.RunDone(measure.StatusFailed, time.Second)
	r.AddDropped(5)

	if got := testutil.ToFloat64(r.queued); got != 2 {
		t.Fatalf("runs_queued_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.queueLen); got != 2 {
		t.Fatalf("queue_length = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.done.WithLabelValues("finished")); got != 1 {
		t.Fatalf("runs_done_total{finished} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.done.WithLabelValues("failed")); got != 1 {
		t.Fatalf("runs_done_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.dropTotal); got != 5 {
		t.Fatalf("data_events_dropped_total = %v, want 5", got)
	}
}

func TestRegistryGathers(t *testing.T) {
	t.Parallel()
	r := NewRecorder()
	r.RunQueued()

	mfs, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "labrun_runs_queued_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("labrun_runs_queued_total not registered")
	}
}
