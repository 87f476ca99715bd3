package measure

import (
	"context"

	logx "labrun/pkg/logx"
)

// Status is the lifecycle state of a scheduled procedure.
type Status int32

const (
	StatusQueued Status = iota
	StatusRunning
	StatusFailed
	StatusAborted
	StatusFinished
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusAborted, StatusFinished:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusFinished:
		return "finished"
	}
	return "unknown"
}

// Emit topics understood by the worker. Anything else is relayed verbatim
// on the event bus under its own topic.
const (
	TopicProgress = "progress"
	TopicStatus   = "status"
	TopicResults  = "results"
	TopicLog      = "log"
)

// Procedure is a user-supplied measurement.
//
// The worker drives the hooks in order. Shutdown always runs, regardless of
// how Startup or Execute exited, and must release any scoped resources.
// Hooks returning an error mark the run failed; returning nil after an abort
// request marks it aborted.
type Procedure interface {
	// Name identifies the procedure in logs, events and persisted results.
	Name() string

	// Params returns the ordered parameter set. The scheduler freezes it
	// before Startup; a nil return is treated as an empty set.
	Params() *Params

	Startup(ctx context.Context, env *Env) error
	Execute(ctx context.Context, env *Env) error
	Shutdown(ctx context.Context, env *Env) error
}

// Columns is implemented by procedures that persist tabular rows; the
// results sink uses it to write a stable header.
type Columns interface {
	Columns() []string
}

// Env is the execution environment handed to every hook.
//
// It replaces any notion of the scheduler reaching into the procedure:
// everything a running procedure may do to the outside world goes through
// here, and everything the scheduler wants the procedure to observe (the
// stop request, queue position) is read from here.
type Env struct {
	emit       func(topic string, payload any)
	shouldStop func() bool
	isLast     func() bool
	log        logx.Logger
}

// NewEnv builds an Env. Intended for the scheduler's worker and for tests
// exercising procedures standalone; nil callbacks default to no-ops.
func NewEnv(emit func(topic string, payload any), shouldStop func() bool, log logx.Logger) *Env {
	if emit == nil {
		emit = func(string, any) {}
	}
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}
	return &Env{emit: emit, shouldStop: shouldStop, log: log}
}

// WithIsLast attaches the optional "no further queued work" predicate.
func (e *Env) WithIsLast(fn func() bool) *Env {
	e.isLast = fn
	return e
}

// Emit publishes a payload under a topic. It never blocks on slow consumers.
func (e *Env) Emit(topic string, payload any) { e.emit(topic, payload) }

// ShouldStop reports whether an abort has been requested. Execute must poll
// this at safe points and return promptly when it turns true.
func (e *Env) ShouldStop() bool { return e.shouldStop() }

// Progress reports completion in percent (0..100).
func (e *Env) Progress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	e.emit(TopicProgress, pct)
}

// Record appends one row to the bound results sink and relays it to
// subscribers.
func (e *Env) Record(row map[string]any) { e.emit(TopicResults, row) }

// IsLast reports whether no further queued work follows this run. It is
// advisory (false when the scheduler did not wire it) and not required for
// correctness.
func (e *Env) IsLast() bool {
	if e.isLast == nil {
		return false
	}
	return e.isLast()
}

// Log returns the run-scoped logger.
func (e *Env) Log() logx.Logger { return e.log }
