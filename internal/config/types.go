package config

import (
	logx "labrun/pkg/logx"
)

// Config is the full daemon configuration, loaded from YAML.
//
// This package owns the on-disk schema only; internal/app maps sections onto
// the individual service configs. Unknown keys are rejected so a typo never
// silently disables a section.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Results   ResultsConfig   `yaml:"results"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Timetable TimetableConfig `yaml:"timetable"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Debug     DebugConfig     `yaml:"debug"`
}

type LoggingConfig struct {
	Level string     `yaml:"level"`
	File  FileConfig `yaml:"file"`
}

type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ResultsConfig selects the persisted-results backend.
//
// Driver values:
//   - "file": one CSV file per run under Dir
//   - "sqlite": a single database holding all runs and rows
type ResultsConfig struct {
	Driver      string   `yaml:"driver"`
	Dir         string   `yaml:"dir"`
	Path        string   `yaml:"path"`         // sqlite only
	BusyTimeout Duration `yaml:"busy_timeout"` // sqlite only; 0 means default
}

// SchedulerConfig controls queue dispatch policy.
type SchedulerConfig struct {
	StartOnAdd  bool     `yaml:"start_on_add"` // dispatch newly queued work when idle
	Continuous  bool     `yaml:"continuous"`   // dispatch the next item after completion
	EventBuffer int      `yaml:"event_buffer"` // worker→monitor channel capacity
	JoinTimeout Duration `yaml:"join_timeout"` // bound on worker join during cleanup
}

// TimetableConfig describes cron-driven auto-queuing.
type TimetableConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Timezone string           `yaml:"timezone"` // IANA TZ, e.g. "Europe/Berlin"
	Entries  []TimetableEntry `yaml:"entries"`
}

type TimetableEntry struct {
	Name      string         `yaml:"name"`
	Spec      string         `yaml:"spec"` // cron spec or @every
	Procedure string         `yaml:"procedure"`
	Params    map[string]any `yaml:"params"`
}

// NotifierConfig controls the Telegram terminal-event notifier.
type NotifierConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token"`
	ChatID     int64  `yaml:"chat_id"`
	RatePerMin int    `yaml:"rate_per_min"`
	OnFinished bool   `yaml:"on_finished"` // failures/aborts are always sent
}

// DebugConfig controls the metrics/pprof HTTP listener.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. "127.0.0.1:9120"
}

// LogxConfig maps the logging section onto the logx service config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: true,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
