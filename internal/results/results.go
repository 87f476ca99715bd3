package results

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"labrun/pkg/measure"
)

var (
	ErrClosed        = errors.New("results closed")
	ErrUnknownDriver = errors.New("unknown results driver")
)

// Config selects and parametrizes the backend.
type Config struct {
	Driver      string        // "file" (default) or "sqlite"
	Dir         string        // file driver: directory for per-run CSV files
	Path        string        // sqlite driver: database file
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Meta describes the run a sink belongs to.
type Meta struct {
	RunID     string
	Procedure string
	Params    []measure.Param
	Started   time.Time
}

type sink interface {
	Append(row map[string]any) error
	Close() error
}

// Results is the append-only destination handle carried by a scheduled run.
type Results struct {
	name    string // unique run name, identity for duplicate-open detection
	columns []string
	meta    Meta
	sink    sink
}

// Open creates the destination for a run.
//
// name is the per-run file stem (for the file driver, "<dir>/<name>.csv");
// it must be unique — opening an already-existing destination fails so two
// queued runs can never write into the same file.
func Open(cfg Config, name string, meta Meta, columns []string) (*Results, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("results: empty run name")
	}
	if meta.Started.IsZero() {
		meta.Started = time.Now()
	}
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	var (
		s   sink
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		s, err = openFile(cfg, name, meta, columns)
	case "sqlite", "sqlite3":
		s, err = openSQLite(cfg, name, meta, columns)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &Results{name: name, columns: columns, meta: meta, sink: s}, nil
}

// Basename identifies the destination; two Results with the same basename
// would collide on disk.
func (r *Results) Basename() string { return r.name }

// Columns returns the declared row header.
func (r *Results) Columns() []string { return r.columns }

func (r *Results) Procedure() string { return r.meta.Procedure }

// Append writes one row. Unknown keys are ignored by the file driver and
// kept by the sqlite driver (rows are stored as JSON there).
func (r *Results) Append(row map[string]any) error {
	if r == nil || r.sink == nil {
		return ErrClosed
	}
	return r.sink.Append(row)
}

func (r *Results) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	s := r.sink
	r.sink = nil
	return s.Close()
}
