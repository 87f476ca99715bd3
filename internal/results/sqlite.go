package results

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteSink keeps every run in one database: a runs row with the metadata
// and one run_rows row per appended record (stored as JSON).
type sqliteSink struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
	seq   int64
}

func openSQLite(cfg Config, name string, meta Meta, columns []string) (*sqliteSink, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("results: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	params, _ := json.Marshal(meta.Params)
	cols, _ := json.Marshal(columns)
	_, err = db.Exec(
		`INSERT INTO runs(id, name, procedure, params, columns, started) VALUES(?,?,?,?,?,?)`,
		meta.RunID, name, meta.Procedure, string(params), string(cols),
		meta.Started.Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("results: register run %q: %w", name, err)
	}

	return &sqliteSink{db: db, runID: meta.RunID}, nil
}

func migrate(db *sql.DB) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(context.Background(), string(b))
	return err
}

func (s *sqliteSink) Append(row map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	s.seq++
	_, err = s.db.Exec(
		`INSERT INTO run_rows(run_id, seq, data) VALUES(?,?,?)`,
		s.runID, s.seq, string(data),
	)
	return err
}

func (s *sqliteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}
