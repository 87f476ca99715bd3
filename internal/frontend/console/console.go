// Package console renders run events as human-readable lines.
//
// It subscribes to the scheduler's bus and writes one line per lifecycle
// transition, log record and result row summary. Progress updates are
// throttled so a chatty procedure cannot flood the terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"labrun/internal/eventbus"
	"labrun/internal/scheduler"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

type Config struct {
	Enabled bool
	// ProgressPerSec caps rendered progress lines (default 2/s).
	ProgressPerSec float64
}

type Frontend struct {
	log logx.Logger
	cfg Config
	bus eventbus.Bus
	out io.Writer

	progress *rate.Limiter

	mu     sync.Mutex
	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, out io.Writer) *Frontend {
	pps := cfg.ProgressPerSec
	if pps <= 0 {
		pps = 2
	}
	return &Frontend{
		log:      log,
		cfg:      cfg,
		bus:      bus,
		out:      out,
		progress: rate.NewLimiter(rate.Limit(pps), 1),
	}
}

func (f *Frontend) Start(ctx context.Context) {
	if !f.cfg.Enabled {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsub != nil {
		return
	}
	ch, unsub := f.bus.Subscribe(256)
	f.unsub = unsub
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.consume(runCtx, ch)
	}()
}

func (f *Frontend) Stop() {
	f.mu.Lock()
	unsub := f.unsub
	cancel := f.cancel
	f.unsub = nil
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	f.wg.Wait()
}

func (f *Frontend) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.render(ev)
		}
	}
}

func (f *Frontend) render(ev eventbus.Event) {
	switch ev.Topic {
	case scheduler.TopicQueued:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("queued   %s", exp.Name())
		}
	case scheduler.TopicRunning:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("running  %s", exp.Name())
		}
	case scheduler.TopicFinished:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("finished %s in %s", exp.Name(), exp.Duration().Round(time.Millisecond))
		}
	case scheduler.TopicFailed:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("FAILED   %s after %s: %v", exp.Name(), exp.Duration().Round(time.Millisecond), exp.Err())
		}
	case scheduler.TopicAborted:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("aborting %s", exp.Name())
		}
	case scheduler.TopicAbortReturned:
		if exp, ok := ev.Data.(*scheduler.Experiment); ok {
			f.printf("aborted  %s after %s", exp.Name(), exp.Duration().Round(time.Millisecond))
		}
	case scheduler.TopicProgress:
		pu, ok := ev.Data.(scheduler.ProgressUpdate)
		if !ok {
			return
		}
		// Terminal 100% always prints; intermediate updates are throttled.
		if pu.Percent < 100 && !f.progress.Allow() {
			return
		}
		f.printf("progress %s %5.1f%%", pu.Experiment.Name(), pu.Percent)
	case scheduler.TopicLog:
		if lr, ok := ev.Data.(scheduler.LogRecord); ok {
			f.printf("log      %s: %s", lr.Experiment.Name(), lr.Message)
		}
	case scheduler.TopicStatus:
		su, ok := ev.Data.(scheduler.StatusUpdate)
		if !ok || !su.Status.Terminal() {
			return
		}
		if su.Status == measure.StatusFinished {
			return // the finished line already covers it
		}
		f.log.Debug("terminal status",
			logx.String("procedure", su.Experiment.Name()),
			logx.String("status", su.Status.String()),
		)
	}
}

func (f *Frontend) printf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := fmt.Fprintf(f.out, format+"\n", args...); err != nil {
		f.log.Debug("console write failed", logx.Err(err))
	}
}
