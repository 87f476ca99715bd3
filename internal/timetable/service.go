package timetable

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"labrun/internal/results"
	"labrun/internal/scheduler"
	logx "labrun/pkg/logx"
	"labrun/pkg/measure"
)

// Config describes the schedule table.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means local time
	Entries  []Entry
}

// Entry is one cron-driven procedure.
type Entry struct {
	Name      string
	Spec      string // cron spec or @every
	Procedure string
	Params    map[string]any
}

// EntryInfo is a diagnostic view of a registered schedule.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Service owns the cron runner and turns firing entries into queued
// experiments.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	registry *Registry
	manager  *scheduler.Manager
	results  results.Config

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]cron.EntryID
}

func New(cfg Config, log logx.Logger, reg *Registry, mgr *scheduler.Manager, res results.Config) *Service {
	return &Service{
		log:      log,
		cfg:      cfg,
		registry: reg,
		manager:  mgr,
		results:  res,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom |
			cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
}

// ParseSpec validates a cron spec without registering anything.
func (s *Service) ParseSpec(spec string) error {
	_, err := s.parser.Parse(strings.TrimSpace(spec))
	return err
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Debug("timetable disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("timetable: bad timezone %q: %w", tz, err)
		}
		loc = l
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	var errs []error
	for i := range s.cfg.Entries {
		e := s.cfg.Entries[i]
		if err := s.addLocked(e); err != nil {
			errs = append(errs, err)
			s.log.Warn("timetable entry rejected",
				logx.String("entry", e.Name),
				logx.String("spec", e.Spec),
				logx.Err(err),
			)
		}
	}

	s.c.Start()
	s.log.Info("timetable started",
		logx.String("tz", loc.String()),
		logx.Int("entries", len(s.entries)),
	)
	return errors.Join(errs...)
}

func (s *Service) addLocked(e Entry) error {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = e.Procedure
	}
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("duplicate entry %q", name)
	}
	entry := e
	id, err := s.c.AddFunc(strings.TrimSpace(e.Spec), func() { s.fire(entry) })
	if err != nil {
		return err
	}
	s.entries[name] = id
	return nil
}

// fire builds the procedure, opens its results destination and queues it.
// A scheduler still busy with the previous run just keeps the new item
// queued; with an empty registry entry or a full duplicate it logs and
// drops the firing.
func (s *Service) fire(e Entry) {
	proc, err := s.registry.Build(e.Procedure, e.Params)
	if err != nil {
		s.log.Warn("timetable build failed", logx.String("entry", e.Name), logx.Err(err))
		return
	}

	name := runName(e, time.Now())
	var cols []string
	if c, ok := proc.(measure.Columns); ok {
		cols = c.Columns()
	}
	var params []measure.Param
	if p := proc.Params(); p != nil {
		params = p.List()
	}
	res, err := results.Open(s.results, name, results.Meta{
		Procedure: proc.Name(),
		Params:    params,
		Started:   time.Now(),
	}, cols)
	if err != nil {
		s.log.Warn("timetable results open failed",
			logx.String("entry", e.Name),
			logx.String("name", name),
			logx.Err(err),
		)
		return
	}

	exp := scheduler.NewExperiment(proc, res, nil)
	if err := s.manager.Queue(exp); err != nil {
		_ = res.Close()
		s.log.Warn("timetable queue failed", logx.String("entry", e.Name), logx.Err(err))
		return
	}
	s.log.Debug("timetable queued run",
		logx.String("entry", e.Name),
		logx.String("name", name),
	)
}

// runName builds the unique per-fire destination stem, e.g.
// "netspeed-20260825-143000".
func runName(e Entry, now time.Time) string {
	base := strings.TrimSpace(e.Name)
	if base == "" {
		base = e.Procedure
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, base)
	return fmt.Sprintf("%s-%s", base, now.Format("20060102-150405"))
}

// Entries reports the registered schedules with their next/prev fire times.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make([]EntryInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.c.Entry(id)
		spec := ""
		for _, ce := range s.cfg.Entries {
			if strings.TrimSpace(ce.Name) == name || (ce.Name == "" && ce.Procedure == name) {
				spec = ce.Spec
				break
			}
		}
		out = append(out, EntryInfo{Name: name, Spec: spec, Next: e.Next, Prev: e.Prev})
	}
	return out
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		s.log.Info("timetable stopped")
	}
}
