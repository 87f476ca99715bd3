package scheduler

import (
	"errors"
	"testing"

	"labrun/pkg/measure"
)

func TestQueueOrderAndNext(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	a := NewExperiment(newFakeProc("a"), nil, nil)
	b := NewExperiment(newFakeProc("b"), nil, nil)
	q.Append(a)
	q.Append(b)

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	got, err := q.Next()
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got != a {
		t.Fatalf("Next = %v, want first queued item", got.Name())
	}

	// A finished item is skipped; it stays in the queue until removed.
	a.setStatus(measure.StatusFinished)
	got, err = q.Next()
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got != b {
		t.Fatalf("Next = %v, want b", got.Name())
	}
	if q.Len() != 2 {
		t.Fatalf("finished item evicted early, Len = %d", q.Len())
	}

	b.setStatus(measure.StatusFinished)
	if _, err := q.Next(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Next on exhausted queue = %v, want ErrExhausted", err)
	}
	if q.HasNext() {
		t.Fatal("HasNext on exhausted queue = true")
	}
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	a := NewExperiment(newFakeProc("a"), nil, nil)
	q.Append(a)

	stranger := NewExperiment(newFakeProc("x"), nil, nil)
	if err := q.Remove(stranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(absent) = %v, want ErrNotFound", err)
	}

	a.setStatus(measure.StatusRunning)
	if err := q.Remove(a); !errors.Is(err, ErrRunningItem) {
		t.Fatalf("Remove(running) = %v, want ErrRunningItem", err)
	}

	a.setStatus(measure.StatusFinished)
	if err := q.Remove(a); err != nil {
		t.Fatalf("Remove(finished) error: %v", err)
	}
	if q.Contains(a) {
		t.Fatal("item still present after Remove")
	}
}

func TestQueueWithDisplay(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	type rowHandle struct{ id int }
	h := &rowHandle{id: 7}
	a := NewExperiment(newFakeProc("a"), nil, h)
	q.Append(a)

	if got := q.WithDisplay(h); got != a {
		t.Fatal("WithDisplay did not find the bound experiment")
	}
	if got := q.WithDisplay(&rowHandle{id: 7}); got != nil {
		t.Fatal("WithDisplay matched a different handle")
	}
	if got := q.WithDisplay(nil); got != nil {
		t.Fatal("WithDisplay(nil) must not match")
	}
}

func TestQueueSnapshotIsolated(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	a := NewExperiment(newFakeProc("a"), nil, nil)
	q.Append(a)

	snap := q.Experiments()
	snap[0] = nil
	if got := q.Experiments(); got[0] != a {
		t.Fatal("snapshot mutation leaked into the queue")
	}
}
