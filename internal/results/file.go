package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileSink writes one CSV file per run: a commented metadata header, the
// column header, then one line per row, flushed immediately.
type fileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	cols []string
}

func openFile(cfg Config, name string, meta Meta, columns []string) (*fileSink, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, name+".csv")
	// O_EXCL: a destination is written exactly once; duplicates are a caller bug.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	var hdr strings.Builder
	fmt.Fprintf(&hdr, "# Procedure: %s\n", meta.Procedure)
	fmt.Fprintf(&hdr, "# Run: %s\n", meta.RunID)
	fmt.Fprintf(&hdr, "# Started: %s\n", meta.Started.Format(time.RFC3339))
	if len(meta.Params) > 0 {
		hdr.WriteString("# Parameters:\n")
		for _, p := range meta.Params {
			if p.Units != "" {
				fmt.Fprintf(&hdr, "#\t%s: %v %s\n", p.Name, p.Value, p.Units)
			} else {
				fmt.Fprintf(&hdr, "#\t%s: %v\n", p.Name, p.Value)
			}
		}
	}
	if _, err := f.WriteString(hdr.String()); err != nil {
		_ = f.Close()
		return nil, err
	}

	s := &fileSink{f: f, w: csv.NewWriter(f), cols: columns}
	if len(columns) > 0 {
		if err := s.w.Write(columns); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *fileSink) Append(row map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}

	rec := make([]string, len(s.cols))
	for i, c := range s.cols {
		if v, ok := row[c]; ok && v != nil {
			rec[i] = fmt.Sprint(v)
		}
	}
	if err := s.w.Write(rec); err != nil {
		return err
	}
	// Flush per row: the file must be readable while the run is still going.
	s.w.Flush()
	return s.w.Error()
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}
