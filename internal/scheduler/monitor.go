package scheduler

import (
	"sync/atomic"
	"time"

	"labrun/internal/eventbus"
	"labrun/pkg/measure"
	logx "labrun/pkg/logx"
)

// Monitor drains one Worker's event channel on a dedicated goroutine,
// republishing each message on the bus in receipt order. It holds no state
// beyond the channel reference and self-terminates on the terminal marker,
// handing it to the Manager funnel as its last act.
type Monitor struct {
	events   <-chan event
	exp      *Experiment
	bus      eventbus.Bus
	terminal func(ev event)
	log      logx.Logger

	started atomic.Bool
	done    chan struct{}
}

func newMonitor(w *Worker, bus eventbus.Bus, terminal func(ev event), log logx.Logger) *Monitor {
	return &Monitor{
		events:   w.events,
		exp:      w.exp,
		bus:      bus,
		terminal: terminal,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the relay goroutine. Calling it twice is a no-op.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.relay()
}

// Done closes once the relay goroutine has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

func (m *Monitor) relay() {
	defer close(m.done)

	var term *event
	for ev := range m.events {
		switch ev.kind {
		case kindStatus:
			m.publish(TopicStatus, StatusUpdate{Experiment: m.exp, Status: ev.status})
			if ev.status == measure.StatusRunning {
				m.publish(TopicRunning, m.exp)
			}
			if ev.status.Terminal() {
				// Lifecycle terminal topics are the Manager's to publish,
				// after cleanup, so subscribers see exactly one per run.
				t := ev
				term = &t
			}
		case kindProgress:
			m.publish(TopicProgress, ProgressUpdate{Experiment: m.exp, Percent: ev.progress})
		case kindLog:
			m.publish(TopicLog, LogRecord{Experiment: m.exp, Message: ev.message})
		case kindResults:
			m.publish(TopicResults, Row{Experiment: m.exp, Data: ev.row})
		case kindCustom:
			m.publish("run."+ev.topic, ev.payload)
		}
		if term != nil {
			break
		}
	}

	if term == nil {
		// Channel closed without a terminal marker; the worker run loop
		// guarantees one, so this is a bug worth shouting about.
		m.log.Error("worker channel closed without terminal status",
			logx.String("procedure", m.exp.Name()))
		term = &event{kind: kindStatus, status: m.exp.Status()}
	}
	if m.terminal != nil {
		m.terminal(*term)
	}
}

func (m *Monitor) publish(topic string, data any) {
	m.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Data: data})
}
