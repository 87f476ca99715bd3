// Package app assembles the daemon: config, logging, bus, scheduler,
// timetable, notifier, console frontend and the debug listener, with ordered
// startup, config hot-reload fan-out and bounded shutdown.
package app

import (
	"context"
	"os"
	"sync"
	"time"

	"labrun/internal/config"
	"labrun/internal/eventbus"
	"labrun/internal/frontend/console"
	"labrun/internal/notifier"
	"labrun/internal/observability/metrics"
	"labrun/internal/results"
	"labrun/internal/scheduler"
	"labrun/internal/timetable"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
	"labrun/procedures/netspeed"
	"labrun/procedures/ramp"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	recorder *metrics.Recorder
	debug    *metrics.DebugServer

	manager  *scheduler.Manager
	registry *timetable.Registry
	ttable   *timetable.Service
	notif    *notifier.Service
	front    *console.Frontend

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	recorder := metrics.NewRecorder()

	mgr := scheduler.NewManager(scheduler.Config{
		StartOnAdd:  cfg.Scheduler.StartOnAdd,
		Continuous:  cfg.Scheduler.Continuous,
		EventBuffer: cfg.Scheduler.EventBuffer,
		JoinTimeout: cfg.Scheduler.JoinTimeout.Std(),
	}, log.With(logx.String("comp", "scheduler")), bus)
	mgr.SetMetrics(recorder)

	registry := timetable.NewRegistry()
	if err := registerProcedures(registry); err != nil {
		return nil, err
	}

	resCfg := mapResultsConfig(cfg)
	ttable := timetable.New(timetable.Config{
		Enabled:  cfg.Timetable.Enabled,
		Timezone: cfg.Timetable.Timezone,
		Entries:  mapTimetableEntries(cfg),
	}, log.With(logx.String("comp", "timetable")), registry, mgr, resCfg)

	notif, err := notifier.New(notifier.Config{
		Enabled:    cfg.Notifier.Enabled,
		Token:      cfg.Notifier.Token,
		ChatID:     cfg.Notifier.ChatID,
		RatePerMin: cfg.Notifier.RatePerMin,
		OnFinished: cfg.Notifier.OnFinished,
	}, log.With(logx.String("comp", "notifier")), bus)
	if err != nil {
		return nil, err
	}

	front := console.New(console.Config{Enabled: true},
		log.With(logx.String("comp", "console")), bus, os.Stdout)

	var debug *metrics.DebugServer
	if cfg.Debug.Enabled {
		debug = metrics.NewDebugServer(cfg.Debug.Addr, recorder,
			log.With(logx.String("comp", "debug")))
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		recorder: recorder,
		debug:    debug,
		manager:  mgr,
		registry: registry,
		ttable:   ttable,
		notif:    notif,
		front:    front,
	}, nil
}

// Manager exposes the scheduler for callers embedding the app.
func (a *App) Manager() *scheduler.Manager { return a.manager }

// ResultsConfig returns the mapped results backend config.
func (a *App) ResultsConfig() results.Config { return mapResultsConfig(a.cfgm.Get()) }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.manager.Start(runCtx)
	a.front.Start(runCtx)
	a.notif.Start(runCtx)
	if err := a.ttable.Start(); err != nil {
		// Bad entries are skipped individually; the rest of the table runs.
		a.log.Warn("timetable started with rejected entries", logx.Err(err))
	}
	if a.debug != nil {
		a.debug.Start()
	}

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable sections of a republished config: log
// level and sinks, plus scheduler dispatch policy. Timetable, notifier and
// debug listener changes need a restart and are logged as such.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest pending config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.logs.Apply(cfg.LogxConfig())
			a.manager.Apply(scheduler.Config{
				StartOnAdd: cfg.Scheduler.StartOnAdd,
				Continuous: cfg.Scheduler.Continuous,
			})
			a.log.Info("config reloaded",
				logx.Bool("start_on_add", cfg.Scheduler.StartOnAdd),
				logx.Bool("continuous", cfg.Scheduler.Continuous),
			)
		}
	}
}

func (a *App) Stop(ctx context.Context) {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}

	a.ttable.Stop()
	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	a.manager.Stop(stopCtx)
	cancel()
	a.notif.Stop()
	a.front.Stop()
	if a.debug != nil {
		dbgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		a.debug.Stop(dbgCtx)
		cancel()
	}
	a.wg.Wait()

	a.log.Info("stopped")
	_ = a.logs.Close()
}

func registerProcedures(reg *timetable.Registry) error {
	if err := reg.Register("netspeed", func(params map[string]any) (measure.Procedure, error) {
		p := netspeed.New()
		if err := p.Configure(params); err != nil {
			return nil, err
		}
		return p, nil
	}); err != nil {
		return err
	}
	return reg.Register("ramp", func(params map[string]any) (measure.Procedure, error) {
		p := ramp.New()
		if err := p.Configure(params); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func mapResultsConfig(cfg *config.Config) results.Config {
	return results.Config{
		Driver:      cfg.Results.Driver,
		Dir:         cfg.Results.Dir,
		Path:        cfg.Results.Path,
		BusyTimeout: cfg.Results.BusyTimeout.Std(),
	}
}

func mapTimetableEntries(cfg *config.Config) []timetable.Entry {
	out := make([]timetable.Entry, 0, len(cfg.Timetable.Entries))
	for _, e := range cfg.Timetable.Entries {
		out = append(out, timetable.Entry{
			Name:      e.Name,
			Spec:      e.Spec,
			Procedure: e.Procedure,
			Params:    e.Params,
		})
	}
	return out
}
