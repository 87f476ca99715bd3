package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"labrun/internal/eventbus"
	"labrun/internal/scheduler"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

type namedProc struct{ name string }

func (p namedProc) Name() string                                 { return p.name }
func (p namedProc) Params() *measure.Params                      { return nil }
func (p namedProc) Startup(context.Context, *measure.Env) error  { return nil }
func (p namedProc) Execute(context.Context, *measure.Env) error  { return nil }
func (p namedProc) Shutdown(context.Context, *measure.Env) error { return nil }

func TestRenderLifecycle(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := New(Config{Enabled: true}, logx.Nop(), eventbus.New(), &buf)
	exp := scheduler.NewExperiment(namedProc{name: "ramp"}, nil, nil)

	f.render(eventbus.Event{Topic: scheduler.TopicQueued, Data: exp})
	f.render(eventbus.Event{Topic: scheduler.TopicRunning, Data: exp})
	f.render(eventbus.Event{Topic: scheduler.TopicLog, Data: scheduler.LogRecord{Experiment: exp, Message: "dwell reached"}})
	f.render(eventbus.Event{Topic: scheduler.TopicFinished, Data: exp})

	out := buf.String()
	for _, want := range []string{"queued", "running", "dwell reached", "finished"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "ramp") {
		t.Fatalf("output missing procedure name:\n%s", out)
	}
}

func TestRenderThrottlesProgress(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := New(Config{Enabled: true, ProgressPerSec: 0.001}, logx.Nop(), eventbus.New(), &buf)
	exp := scheduler.NewExperiment(namedProc{name: "ramp"}, nil, nil)

	for pct := 1.0; pct <= 99; pct++ {
		f.render(eventbus.Event{Topic: scheduler.TopicProgress,
			Data: scheduler.ProgressUpdate{Experiment: exp, Percent: pct}})
	}
	// One token in the bucket: exactly one intermediate line.
	if got := strings.Count(buf.String(), "progress"); got != 1 {
		t.Fatalf("progress lines = %d, want 1", got)
	}

	// The terminal 100 always renders.
	f.render(eventbus.Event{Topic: scheduler.TopicProgress,
		Data: scheduler.ProgressUpdate{Experiment: exp, Percent: 100}})
	if got := strings.Count(buf.String(), "progress"); got != 2 {
		t.Fatalf("progress lines = %d, want 2 after terminal update", got)
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := New(Config{Enabled: true}, logx.Nop(), eventbus.New(), &buf)
	f.render(eventbus.Event{Topic: "run.custom", Data: 42})
	if buf.Len() != 0 {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
