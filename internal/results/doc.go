// Package results persists measurement rows.
//
// A Results value binds one scheduled run to one append-only destination.
// Rows are written incrementally as the procedure emits them, so a crashed
// or aborted run keeps everything recorded up to that point.
//
// Two drivers exist: "file" writes one CSV file per run with a commented
// metadata header, "sqlite" keeps all runs in a single database.
package results
