package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"labrun/internal/eventbus"
	"labrun/pkg/measure"
	logx "labrun/pkg/logx"
)

const defaultJoinTimeout = 10 * time.Second

// Config controls queue dispatch policy.
type Config struct {
	// StartOnAdd dispatches newly queued work immediately when idle.
	StartOnAdd bool
	// Continuous dispatches the next queued item after each completion.
	Continuous bool
	// EventBuffer is the worker→monitor channel capacity (default 1024).
	EventBuffer int
	// JoinTimeout bounds the worker join during terminal cleanup.
	JoinTimeout time.Duration
}

// Metrics receives scheduler observations; implementations must be cheap
// and non-blocking. A nil Metrics is fine.
type Metrics interface {
	RunQueued()
	RunDone(status measure.Status, took time.Duration)
	SetQueuedLength(n int)
	// AddDropped reports data events the run discarded on a full channel.
	AddDropped(n uint64)
}

// Manager owns the experiment queue and at most one live (Worker, Monitor)
// pair at any time.
//
// Public operations are synchronous and precondition-checked; terminal
// events arriving from the Monitor goroutine are funneled onto the
// Manager's own run goroutine, which serializes every state mutation that
// does not come through the public API. The Manager only ever blocks,
// bounded, while joining an already-terminated worker during cleanup.
type Manager struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	queue   *Queue
	worker  *Worker
	monitor *Monitor
	current *Experiment

	startOnAdd bool
	continuous bool

	terminalCh chan event
	stopCh     chan struct{}
	runCtx     context.Context
	runCancel  context.CancelFunc
	wg         sync.WaitGroup

	metrics Metrics
}

func NewManager(cfg Config, log logx.Logger, bus eventbus.Bus) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Manager{
		log:        log,
		bus:        bus,
		cfg:        cfg,
		queue:      NewQueue(),
		startOnAdd: cfg.StartOnAdd,
		continuous: cfg.Continuous,
		terminalCh: make(chan event, 1),
	}
}

// SetMetrics installs the metrics hook. Call before Start.
func (m *Manager) SetMetrics(mx Metrics) { m.metrics = mx }

// Bus returns the event bus lifecycle and stream topics are published on.
func (m *Manager) Bus() eventbus.Bus { return m.bus }

// Start launches the terminal-event goroutine. Idempotent while running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.stopCh = make(chan struct{})
	m.runCtx, m.runCancel = context.WithCancel(ctx)

	stopCh := m.stopCh
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(stopCh)
	}()
	m.log.Debug("scheduler started",
		logx.Bool("start_on_add", m.startOnAdd),
		logx.Bool("continuous", m.continuous),
	)

	// Work queued before Start would otherwise wait for a manual Next.
	if m.startOnAdd {
		if err := m.nextLocked(); err != nil {
			m.log.Warn("backlog dispatch failed", logx.Err(err))
		}
	}
}

// Stop aborts any live run cooperatively and shuts the manager down. It
// waits, bounded by ctx, for the worker and the run goroutine to exit.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh == nil {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	cancel := m.runCancel
	w := m.worker
	m.stopCh = nil
	m.runCancel = nil
	m.mu.Unlock()

	if w != nil {
		w.Abort()
	}
	if cancel != nil {
		cancel()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		if w != nil {
			w.Join(m.cfg.JoinTimeout)
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// shutdown continues in background
	}

	m.mu.Lock()
	if m.current != nil && m.current.Results != nil {
		_ = m.current.Results.Close()
	}
	m.worker, m.monitor, m.current = nil, nil, nil
	m.mu.Unlock()
	m.log.Debug("scheduler stopped")
}

func (m *Manager) loop(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case ev := <-m.terminalCh:
			m.finish(ev)
		}
	}
}

// Queue appends an experiment and publishes run.queued. With StartOnAdd set
// and the manager idle, it also dispatches immediately.
func (m *Manager) Queue(exp *Experiment) error {
	if exp == nil || exp.Proc == nil {
		return errors.New("nil experiment")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp.Results != nil && m.queue.ContainsResults(exp.Results.Basename()) {
		return ErrDuplicateResults
	}

	exp.setStatus(measure.StatusQueued)
	m.queue.Append(exp)
	m.publish(TopicQueued, exp)
	if m.metrics != nil {
		m.metrics.RunQueued()
		m.metrics.SetQueuedLength(m.queue.queuedLen())
	}
	m.log.Debug("experiment queued",
		logx.String("procedure", exp.Name()),
		logx.String("id", exp.ID.String()),
	)

	if m.startOnAdd && m.worker == nil && m.stopCh != nil {
		return m.nextLocked()
	}
	return nil
}

// Next dispatches the first queued experiment.
//
// Calling it while a run is live is a precondition violation and fails
// immediately with ErrAlreadyRunning; an empty queue is a no-op.
func (m *Manager) Next() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLocked()
}

func (m *Manager) nextLocked() error {
	if m.stopCh == nil {
		return ErrStopped
	}
	if m.worker != nil {
		return ErrAlreadyRunning
	}

	exp, err := m.queue.Next()
	if errors.Is(err, ErrExhausted) {
		return nil
	}
	if err != nil {
		return err
	}

	runLog := m.log.With(
		logx.String("procedure", exp.Name()),
		logx.String("id", exp.ID.String()),
	)
	w := newWorker(exp, m.cfg.EventBuffer, runLog)
	w.isLast = func() bool { return !m.queue.HasNext() }
	mon := newMonitor(w, m.bus, m.forwardTerminal, runLog)

	m.worker, m.monitor, m.current = w, mon, exp

	// Monitor first: no event emitted by the worker may ever be missed.
	mon.Start()
	w.Start(m.runCtx)

	if m.metrics != nil {
		m.metrics.SetQueuedLength(m.queue.queuedLen())
	}
	runLog.Info("experiment dispatched")
	return nil
}

// forwardTerminal runs on the monitor goroutine; the buffered channel holds
// at most the single live run's marker, so the send cannot block for long.
func (m *Manager) forwardTerminal(ev event) {
	m.terminalCh <- ev
}

// finish performs terminal cleanup exactly once per run: join the worker,
// await the monitor, release the results sink, clear the pair, publish the
// one terminal lifecycle event, then auto-continue when configured.
func (m *Manager) finish(ev event) {
	m.mu.Lock()
	w, mon, exp := m.worker, m.monitor, m.current
	m.mu.Unlock()
	if w == nil || exp == nil {
		return
	}

	if !w.Join(m.cfg.JoinTimeout) {
		m.log.Warn("worker join timed out",
			logx.String("procedure", exp.Name()),
			logx.Duration("timeout", m.cfg.JoinTimeout),
		)
	}
	if mon != nil {
		<-mon.Done()
	}
	if exp.Results != nil {
		if err := exp.Results.Close(); err != nil {
			m.log.Warn("results close failed",
				logx.String("procedure", exp.Name()),
				logx.Err(err),
			)
		}
	}

	m.mu.Lock()
	m.worker, m.monitor, m.current = nil, nil, nil
	cont := m.continuous
	m.mu.Unlock()

	if m.metrics != nil {
		if n := w.dropped.Load(); n > 0 {
			m.metrics.AddDropped(n)
		}
		m.metrics.RunDone(ev.status, exp.Duration())
	}

	switch ev.status {
	case measure.StatusFinished:
		// Force the display to 100% even if the procedure never reported it.
		m.publish(TopicProgress, ProgressUpdate{Experiment: exp, Percent: 100})
		m.publish(TopicFinished, exp)
	case measure.StatusFailed:
		m.publish(TopicFailed, exp)
	case measure.StatusAborted:
		m.publish(TopicAbortReturned, exp)
	}

	if cont {
		if err := m.Next(); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrStopped) {
			m.log.Warn("auto-continue dispatch failed", logx.Err(err))
		}
	}
}

// Abort requests a cooperative stop of the live run and turns auto-dispatch
// off so nothing else starts behind the caller's back. Completion is
// signaled later by run.abort_returned, not by this call's return.
func (m *Manager) Abort() error {
	m.mu.Lock()
	if m.worker == nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.startOnAdd = false
	m.continuous = false
	w, exp := m.worker, m.current
	// Published before the flag is raised: a fast worker can otherwise get
	// abort_returned onto the bus ahead of this event.
	m.publish(TopicAborted, exp)
	m.mu.Unlock()

	w.Abort()
	m.log.Info("abort requested", logx.String("procedure", exp.Name()))
	return nil
}

// Resume re-enables auto-dispatch and continuous mode, then dispatches.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startOnAdd = true
	m.continuous = true
	return m.nextLocked()
}

// Remove takes an experiment out of the queue; removing the live run fails.
// A still-queued item has its results sink released on the way out.
func (m *Manager) Remove(exp *Experiment) error {
	if exp == nil {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The dispatched item belongs to the manager from the moment the pair is
	// installed, before the worker goroutine has marked it RUNNING.
	if exp == m.current {
		return ErrRunningItem
	}
	wasQueued := exp.Status() == measure.StatusQueued
	if err := m.queue.Remove(exp); err != nil {
		return err
	}
	if wasQueued && exp.Results != nil {
		_ = exp.Results.Close()
	}
	if m.metrics != nil {
		m.metrics.SetQueuedLength(m.queue.queuedLen())
	}
	return nil
}

// Clear removes every experiment. It fails while a run is live; abort first.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.worker != nil {
		return ErrRunningItem
	}
	for _, exp := range m.queue.Experiments() {
		wasQueued := exp.Status() == measure.StatusQueued
		if err := m.queue.Remove(exp); err != nil {
			return err
		}
		if wasQueued && exp.Results != nil {
			_ = exp.Results.Close()
		}
	}
	if m.metrics != nil {
		m.metrics.SetQueuedLength(0)
	}
	return nil
}

// IsRunning reports whether a (Worker, Monitor) pair is live.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.worker != nil
}

// Current returns the live experiment, or nil while idle.
func (m *Manager) Current() *Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Experiments snapshots the queue in insertion order.
func (m *Manager) Experiments() []*Experiment { return m.queue.Experiments() }

// HasNext reports whether queued work remains.
func (m *Manager) HasNext() bool { return m.queue.HasNext() }

// WithDisplay is the reverse lookup from a front-end handle.
func (m *Manager) WithDisplay(handle any) *Experiment { return m.queue.WithDisplay(handle) }

// Apply updates dispatch policy from a reloaded config. An explicit Abort
// still wins until the next reload or Resume.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.startOnAdd = cfg.StartOnAdd
	m.continuous = cfg.Continuous
	m.mu.Unlock()
}

func (m *Manager) publish(topic string, data any) {
	m.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Data: data})
}
