package scheduler

import "errors"

var (
	// ErrAlreadyRunning rejects Next while a run is in flight.
	ErrAlreadyRunning = errors.New("a procedure is already running")

	// ErrNotRunning rejects Abort while idle.
	ErrNotRunning = errors.New("no procedure is running")

	// ErrStopped rejects dispatch before Start or after Stop.
	ErrStopped = errors.New("scheduler is not running")

	// ErrExhausted signals "no queued work". Not a failure; callers wanting
	// the non-exceptional path check HasNext first.
	ErrExhausted = errors.New("queue has no queued items")

	// ErrNotFound is returned when removing an item that is not queued.
	ErrNotFound = errors.New("experiment not in queue")

	// ErrRunningItem rejects removing or clearing a running item.
	ErrRunningItem = errors.New("experiment is running")

	// ErrDuplicateResults rejects queuing two runs writing the same destination.
	ErrDuplicateResults = errors.New("results destination already queued")
)
