package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"labrun/pkg/measure"
	logx "labrun/pkg/logx"
)

const defaultEventBuffer = 1024

// Worker executes exactly one experiment off the caller's goroutine.
//
// Construction and Start are separate so the Manager can wire the Monitor
// to the event channel before anything can be emitted.
type Worker struct {
	exp    *Experiment
	events chan event
	log    logx.Logger

	abortFlag atomic.Bool
	started   atomic.Bool
	done      chan struct{}

	// dropped counts data events discarded because the channel was full.
	dropped atomic.Uint64

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc

	// isLast, when wired by the Manager, tells the procedure whether any
	// queued work follows. Advisory only.
	isLast func() bool
}

func newWorker(exp *Experiment, buffer int, log logx.Logger) *Worker {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	exp.setStatus(measure.StatusQueued)
	return &Worker{
		exp:    exp,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Start begins asynchronous execution. Calling it twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.runCtx = runCtx
	w.cancel = cancel
	w.mu.Unlock()
	go w.run(runCtx)
}

// Abort raises the cooperative stop flag and cancels the run context. The
// procedure keeps running until it polls ShouldStop (or its blocking calls
// honor the context); execution is never terminated forcibly.
func (w *Worker) Abort() {
	w.abortFlag.Store(true)
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ShouldStop reports whether an abort was requested.
func (w *Worker) ShouldStop() bool {
	if w.abortFlag.Load() {
		return true
	}
	w.mu.Lock()
	ctx := w.runCtx
	w.mu.Unlock()
	return ctx != nil && ctx.Err() != nil
}

// Join blocks, bounded by timeout, until the run has fully terminated.
// It reports false on timeout. Idempotent.
func (w *Worker) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		return true
	case <-t.C:
		return false
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	exp := w.exp
	if p := exp.Proc.Params(); p != nil {
		p.Freeze()
	}

	exp.started = time.Now()
	w.setStatus(measure.StatusRunning)

	env := measure.NewEnv(w.emit, w.ShouldStop, w.log).WithIsLast(w.isLast)
	err := w.runHooks(ctx, env)

	switch {
	case err != nil:
		// Failures never escape to the scheduler goroutine: record, log,
		// surface as a normal terminal event.
		exp.failure = err
		exp.finished = time.Now()
		w.log.Warn("procedure failed",
			logx.String("procedure", exp.Name()),
			logx.Err(err),
			logx.Duration("took", exp.Duration()),
		)
		w.setStatus(measure.StatusFailed)
	case w.abortFlag.Load() || ctx.Err() != nil:
		exp.finished = time.Now()
		w.log.Info("procedure aborted",
			logx.String("procedure", exp.Name()),
			logx.Duration("took", exp.Duration()),
		)
		w.setStatus(measure.StatusAborted)
	default:
		exp.finished = time.Now()
		w.emitData(event{kind: kindProgress, progress: 100})
		w.log.Info("procedure finished",
			logx.String("procedure", exp.Name()),
			logx.Duration("took", exp.Duration()),
		)
		w.setStatus(measure.StatusFinished)
	}

	if n := w.dropped.Load(); n > 0 {
		w.log.Warn("data events dropped (monitor behind)",
			logx.String("procedure", exp.Name()),
			logx.Any("count", n),
		)
	}
}

// runHooks drives startup → execute, converting panics into errors.
// Shutdown always runs, on every exit path, with a context that survives
// an abort so cleanup can still talk to hardware.
func (w *Worker) runHooks(ctx context.Context, env *measure.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("panic in procedure",
				logx.String("procedure", w.exp.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	defer func() {
		if sErr := w.shutdown(env); sErr != nil && err == nil {
			err = sErr
		}
	}()

	if err := w.exp.Proc.Startup(ctx, env); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := w.exp.Proc.Execute(ctx, env); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

func (w *Worker) shutdown(env *measure.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in shutdown: %v", r)
			w.log.Error("panic in procedure shutdown",
				logx.String("procedure", w.exp.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	sctx := context.WithoutCancel(w.ctx())
	if serr := w.exp.Proc.Shutdown(sctx, env); serr != nil {
		return fmt.Errorf("shutdown: %w", serr)
	}
	return nil
}

func (w *Worker) ctx() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runCtx == nil {
		return context.Background()
	}
	return w.runCtx
}

// setStatus records the transition and emits it. Status events use a
// blocking send: the terminal marker must never be lost, and the monitor
// is always draining.
func (w *Worker) setStatus(s measure.Status) {
	w.exp.setStatus(s)
	w.events <- event{kind: kindStatus, status: s}
}

// emitData is the non-blocking path for progress/log/row traffic. When the
// channel is full the event is dropped and counted; the emit path of a
// procedure must never stall on a slow consumer.
func (w *Worker) emitData(ev event) {
	select {
	case w.events <- ev:
	default:
		w.dropped.Add(1)
	}
}

// emit is the Env callback; it classifies the topic and, for result rows,
// appends to the persisted sink before relaying.
func (w *Worker) emit(topic string, payload any) {
	switch topic {
	case measure.TopicProgress:
		pct, ok := toFloat(payload)
		if !ok {
			return
		}
		w.emitData(event{kind: kindProgress, progress: pct})
	case measure.TopicResults:
		row, ok := payload.(map[string]any)
		if !ok {
			return
		}
		if w.exp.Results != nil {
			if err := w.exp.Results.Append(row); err != nil {
				w.log.Error("results append failed",
					logx.String("procedure", w.exp.Name()),
					logx.Err(err),
				)
			}
		}
		w.emitData(event{kind: kindResults, row: row})
	case measure.TopicLog:
		w.emitData(event{kind: kindLog, message: fmt.Sprint(payload)})
	default:
		w.emitData(event{kind: kindCustom, topic: topic, payload: payload})
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
