package timetable

import (
	"context"
	"strings"
	"testing"
	"time"

	"labrun/internal/results"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

func resultsConfig() results.Config {
	return results.Config{Driver: "file", Dir: "."}
}

func TestParseSpecVariants(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), NewRegistry(), nil, resultsConfig())

	valid := []string{
		"*/5 * * * *",      // 5-field
		"0 0 3 * * *",      // 6-field with seconds
		"@every 90s",
		"@daily",
		"  0 12 * * MON  ", // whitespace tolerated
	}
	for _, spec := range valid {
		if err := s.ParseSpec(spec); err != nil {
			t.Fatalf("ParseSpec(%q) error: %v", spec, err)
		}
	}

	invalid := []string{"", "not a spec", "61 * * * *", "@every soon"}
	for _, spec := range invalid {
		if err := s.ParseSpec(spec); err == nil {
			t.Fatalf("ParseSpec(%q) accepted", spec)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	build := func(params map[string]any) (measure.Procedure, error) {
		return &staticProc{name: "fake"}, nil
	}

	if err := reg.Register("fake", build); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := reg.Register("fake", build); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := reg.Register("", build); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := reg.Register("nilfactory", nil); err == nil {
		t.Fatal("nil factory accepted")
	}

	proc, err := reg.Build("fake", nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if proc.Name() != "fake" {
		t.Fatalf("Name = %q", proc.Name())
	}
	if _, err := reg.Build("missing", nil); err == nil {
		t.Fatal("unknown procedure built")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "fake" {
		t.Fatalf("Names = %v", names)
	}
}

func TestRunNameSanitized(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	got := runName(Entry{Name: "night sweep/1"}, now)
	want := "night-sweep-1-20260825-143000"
	if got != want {
		t.Fatalf("runName = %q, want %q", got, want)
	}

	// Falls back to the procedure name when the entry is unnamed.
	got = runName(Entry{Procedure: "ramp"}, now)
	if !strings.HasPrefix(got, "ramp-") {
		t.Fatalf("runName = %q, want ramp- prefix", got)
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Mars/Olympus"},
		logx.Nop(), NewRegistry(), nil, resultsConfig())
	if err := s.Start(); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), NewRegistry(), nil, resultsConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := s.Entries(); got != nil {
		t.Fatalf("Entries = %v, want none", got)
	}
	s.Stop()
}

type staticProc struct{ name string }

func (p *staticProc) Name() string                                 { return p.name }
func (p *staticProc) Params() *measure.Params                      { return nil }
func (p *staticProc) Startup(context.Context, *measure.Env) error  { return nil }
func (p *staticProc) Execute(context.Context, *measure.Env) error  { return nil }
func (p *staticProc) Shutdown(context.Context, *measure.Env) error { return nil }
