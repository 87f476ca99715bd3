package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labrun/pkg/measure"
)

func TestFileSinkWritesHeaderAndRows(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	meta := Meta{
		Procedure: "ramp",
		Params: []measure.Param{
			{Name: "start", Value: 0.0, Units: "V"},
			{Name: "steps", Value: 10},
		},
		Started: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	res, err := Open(Config{Driver: "file", Dir: dir}, "ramp-001", meta, []string{"step", "value"})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if res.Basename() != "ramp-001" {
		t.Fatalf("Basename = %q", res.Basename())
	}

	if err := res.Append(map[string]any{"step": 0, "value": 1.5}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := res.Append(map[string]any{"step": 1, "value": 3.0, "extra": "ignored"}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "ramp-001.csv"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	text := string(b)
	for _, want := range []string{
		"# Procedure: ramp",
		"# Started: 2026-08-25T12:00:00Z",
		"#\tstart: 0 V",
		"step,value",
		"0,1.5",
		"1,3",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("file missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "ignored") {
		t.Fatal("unknown column leaked into the file")
	}
}

func TestFileSinkDuplicateOpenFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Dir: dir}

	res, err := Open(cfg, "same", Meta{Procedure: "p"}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer res.Close()

	if _, err := Open(cfg, "same", Meta{Procedure: "p"}, nil); err == nil {
		t.Fatal("second Open on the same destination succeeded")
	}
}

func TestAppendAfterClose(t *testing.T) {
	t.Parallel()
	res, err := Open(Config{Driver: "file", Dir: t.TempDir()},
		"closed", Meta{Procedure: "p"}, []string{"x"})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := res.Append(map[string]any{"x": 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v, want ErrClosed", err)
	}
	// Closing again is a no-op.
	if err := res.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file", Dir: t.TempDir()}, "  ", Meta{}, nil); err == nil {
		t.Fatal("Open with empty name succeeded")
	}
	if _, err := Open(Config{Driver: "cassette"}, "x", Meta{}, nil); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("unknown driver = %v, want ErrUnknownDriver", err)
	}
}
