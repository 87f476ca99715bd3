package scheduler

import (
	"sync"

	"labrun/pkg/measure"
)

// Queue is the insertion-ordered collection of experiments.
//
// Items stay in the queue after finishing (so front-ends can keep showing
// them) until explicitly removed; dispatch only ever considers items whose
// status is QUEUED. A RUNNING item can never be removed.
type Queue struct {
	mu    sync.Mutex
	items []*Experiment
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Append(e *Experiment) {
	if e == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// Remove takes an experiment out of the queue.
// It fails with ErrNotFound if absent and ErrRunningItem if the experiment
// is currently RUNNING.
func (q *Queue) Remove(e *Experiment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it != e {
			continue
		}
		if it.Status() == measure.StatusRunning {
			return ErrRunningItem
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// Next returns the first QUEUED experiment, or ErrExhausted when none is
// left. Exhaustion is a signal, not a failure.
func (q *Queue) Next() (*Experiment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status() == measure.StatusQueued {
			return it, nil
		}
	}
	return nil, ErrExhausted
}

// HasNext reports whether Next would succeed.
func (q *Queue) HasNext() bool {
	_, err := q.Next()
	return err == nil
}

// Contains reports whether the experiment itself is in the queue.
func (q *Queue) Contains(e *Experiment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it == e {
			return true
		}
	}
	return false
}

// ContainsResults reports whether any queued experiment writes the given
// results basename. Used for duplicate-open detection.
func (q *Queue) ContainsResults(basename string) bool {
	if basename == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Results != nil && it.Results.Basename() == basename {
			return true
		}
	}
	return false
}

// WithDisplay is the reverse lookup from a front-end handle to its
// experiment. Returns nil when no item carries the handle.
func (q *Queue) WithDisplay(handle any) *Experiment {
	if handle == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Display == handle {
			return it
		}
	}
	return nil
}

// Experiments returns a snapshot in insertion order.
func (q *Queue) Experiments() []*Experiment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Experiment, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// queuedLen counts items still waiting to run.
func (q *Queue) queuedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.Status() == measure.StatusQueued {
			n++
		}
	}
	return n
}
