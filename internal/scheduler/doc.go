// Package scheduler runs measurement procedures one at a time.
//
// Three cooperating pieces:
//
//   - Worker: executes exactly one procedure on its own goroutine and turns
//     everything the procedure does (status changes, progress, log lines,
//     result rows) into messages on a single buffered channel.
//   - Monitor: drains that channel on a dedicated goroutine, republishing
//     each message on the event bus in receipt order, and hands the terminal
//     marker to the Manager. It never blocks the Worker.
//   - Manager: owns the queue and at most one live (Worker, Monitor) pair,
//     enforces one-running-at-a-time, and handles terminal cleanup on its
//     own goroutine so callers never block on procedure execution.
//
// Backpressure: the Worker channel is generously buffered (default 1024).
// Status messages block when it is full because the terminal marker must
// not be lost; data messages (progress, log, rows) are dropped with a log
// line instead, so a procedure's emit path can never stall on a slow
// consumer.
//
// Cancellation is cooperative only. Abort flips a flag and cancels the run
// context; the procedure is expected to poll Env.ShouldStop at safe points.
// There is no hard kill: a forced termination could leave an instrument
// mid-command, because Shutdown would never run.
package scheduler
