package notifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"labrun/internal/eventbus"
	"labrun/internal/scheduler"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

type failedProc struct{}

func (failedProc) Name() string                                 { return "netspeed" }
func (failedProc) Params() *measure.Params                      { return nil }
func (failedProc) Startup(context.Context, *measure.Env) error  { return nil }
func (failedProc) Execute(context.Context, *measure.Env) error  { return nil }
func (failedProc) Shutdown(context.Context, *measure.Env) error { return nil }

func terminalExperiment(t *testing.T) *scheduler.Experiment {
	t.Helper()
	return scheduler.NewExperiment(failedProc{}, nil, nil)
}

func TestFormatSelectsTerminalTopics(t *testing.T) {
	t.Parallel()
	s := &Service{cfg: Config{Enabled: true}, log: logx.Nop()}
	exp := terminalExperiment(t)

	msg := s.format(eventbus.Event{Topic: scheduler.TopicAbortReturned, Data: exp})
	if !strings.Contains(msg, "aborted") || !strings.Contains(msg, "netspeed") {
		t.Fatalf("abort message = %q", msg)
	}

	if msg := s.format(eventbus.Event{Topic: scheduler.TopicFailed, Data: exp}); !strings.Contains(msg, "failed") {
		t.Fatalf("failure message = %q", msg)
	}

	// Normal finishes are opt-in.
	if msg := s.format(eventbus.Event{Topic: scheduler.TopicFinished, Data: exp}); msg != "" {
		t.Fatalf("finished notified without opt-in: %q", msg)
	}
	s.cfg.OnFinished = true
	if msg := s.format(eventbus.Event{Topic: scheduler.TopicFinished, Data: exp}); !strings.Contains(msg, "finished") {
		t.Fatalf("finished message = %q", msg)
	}

	// Stream topics never notify.
	if msg := s.format(eventbus.Event{Topic: scheduler.TopicProgress, Data: exp}); msg != "" {
		t.Fatalf("progress notified: %q", msg)
	}
	if msg := s.format(eventbus.Event{Topic: scheduler.TopicFailed, Data: "not an experiment"}); msg != "" {
		t.Fatalf("foreign payload notified: %q", msg)
	}
}

func TestNewValidatesEnabledConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Enabled: true, ChatID: 1}, logx.Nop(), eventbus.New()); err == nil {
		t.Fatal("missing token accepted")
	}
	if _, err := New(Config{Enabled: true, Token: "x"}, logx.Nop(), eventbus.New()); err == nil {
		t.Fatal("missing chat_id accepted")
	}

	// Disabled config never touches the network.
	s, err := New(Config{Enabled: false}, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("New(disabled) error: %v", err)
	}
	s.Start(context.Background()) // no-op
	s.Stop()
}

func TestRoundDur(t *testing.T) {
	t.Parallel()
	if got := roundDur(83*time.Second + 400*time.Millisecond); got != 83*time.Second {
		t.Fatalf("roundDur long = %v", got)
	}
	if got := roundDur(123 * time.Millisecond); got != 120*time.Millisecond {
		t.Fatalf("roundDur short = %v", got)
	}
}
