package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"labrun/internal/results"
	"labrun/pkg/measure"
)

// Experiment bundles one procedure with its persisted-results handle and an
// opaque display handle. The composition is immutable once constructed; only
// the status (and, on failure, the cause) changes, and only the worker
// running it writes those.
type Experiment struct {
	ID      uuid.UUID
	Proc    measure.Procedure
	Results *results.Results

	// Display is an opaque handle a front-end may bind (a table row, a
	// console line id). The scheduler never looks inside it.
	Display any

	status atomic.Int32

	// Written by the worker goroutine strictly before the terminal status
	// event; read by everyone else only after observing that event.
	failure  error
	started  time.Time
	finished time.Time
}

// NewExperiment builds a work item. The procedure starts out QUEUED.
func NewExperiment(proc measure.Procedure, res *results.Results, display any) *Experiment {
	e := &Experiment{ID: uuid.New(), Proc: proc, Results: res, Display: display}
	e.status.Store(int32(measure.StatusQueued))
	return e
}

func (e *Experiment) Name() string {
	if e == nil || e.Proc == nil {
		return ""
	}
	return e.Proc.Name()
}

func (e *Experiment) Status() measure.Status {
	return measure.Status(e.status.Load())
}

func (e *Experiment) setStatus(s measure.Status) {
	e.status.Store(int32(s))
}

// Err is the failure cause; non-nil only once status is FAILED.
func (e *Experiment) Err() error { return e.failure }

// Started and Finished bound the run; zero until the respective transition.
func (e *Experiment) Started() time.Time  { return e.started }
func (e *Experiment) Finished() time.Time { return e.finished }

// Duration is how long the run took (zero while not yet terminal).
func (e *Experiment) Duration() time.Duration {
	if e.started.IsZero() || e.finished.IsZero() {
		return 0
	}
	return e.finished.Sub(e.started)
}
