// Package measure defines the contract between user measurement procedures
// and the scheduler that runs them.
//
// A Procedure is a unit of work with three hooks — Startup, Execute,
// Shutdown — all invoked on the worker goroutine with an Env carrying the
// emit callback and the cooperative stop flag. Cancellation is never
// preemptive: Execute is expected to poll Env.ShouldStop (or select on the
// context) at safe points, so instrument hardware is never left mid-command.
package measure
