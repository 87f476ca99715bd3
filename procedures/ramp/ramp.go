// Package ramp sweeps a synthetic setpoint from start to stop in fixed steps,
// dwelling at each one. It exercises the full scheduler surface (progress,
// rows, cooperative abort) without any instrument attached, which makes it
// the default smoke-test and timetable target.
package ramp

import (
	"context"
	"fmt"
	"time"

	"labrun/pkg/measure"
)

type Procedure struct {
	params *measure.Params
}

func New() *Procedure {
	p := measure.NewParams()
	_ = p.SetUnits("start", 0.0, "V")
	_ = p.SetUnits("stop", 1.0, "V")
	_ = p.Set("steps", 10)
	_ = p.SetUnits("dwell_ms", 100, "ms")
	return &Procedure{params: p}
}

func (p *Procedure) Configure(overrides map[string]any) error {
	for k, v := range overrides {
		if err := p.params.Set(k, v); err != nil {
			return fmt.Errorf("ramp: %w", err)
		}
	}
	return nil
}

func (p *Procedure) Name() string            { return "ramp" }
func (p *Procedure) Params() *measure.Params { return p.params }

func (p *Procedure) Columns() []string { return []string{"step", "setpoint", "elapsed_ms"} }

func (p *Procedure) Startup(ctx context.Context, env *measure.Env) error { return nil }

func (p *Procedure) Execute(ctx context.Context, env *measure.Env) error {
	start := p.params.Float("start", 0)
	stop := p.params.Float("stop", 1)
	steps := p.params.Int("steps", 10)
	if steps < 1 {
		return fmt.Errorf("ramp: steps must be >= 1, got %d", steps)
	}
	dwell := time.Duration(p.params.Int("dwell_ms", 100)) * time.Millisecond

	step := 0.0
	if steps > 1 {
		step = (stop - start) / float64(steps-1)
	}

	began := time.Now()
	for i := 0; i < steps; i++ {
		if env.ShouldStop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(dwell):
		}

		setpoint := start + step*float64(i)
		env.Record(map[string]any{
			"step":       i,
			"setpoint":   setpoint,
			"elapsed_ms": time.Since(began).Milliseconds(),
		})
		env.Progress(float64(i+1) / float64(steps) * 100)
	}
	return nil
}

func (p *Procedure) Shutdown(ctx context.Context, env *measure.Env) error { return nil }
