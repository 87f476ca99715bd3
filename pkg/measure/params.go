package measure

import (
	"errors"
	"fmt"
	"sync"
)

var ErrFrozen = errors.New("parameter set is frozen")

// Param is one named measurement parameter.
type Param struct {
	Name  string
	Value any
	Units string
}

// Params is an insertion-ordered parameter set.
//
// The scheduler freezes it when the run starts; after that Set fails and the
// values the procedure observes are exactly the values it was queued with.
type Params struct {
	mu     sync.Mutex
	order  []string
	byName map[string]*Param
	frozen bool
}

func NewParams() *Params {
	return &Params{byName: map[string]*Param{}}
}

// Set adds or replaces a parameter. Insertion order is kept; replacing a
// value does not move it.
func (p *Params) Set(name string, value any) error {
	return p.SetUnits(name, value, "")
}

func (p *Params) SetUnits(name string, value any, units string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	if existing, ok := p.byName[name]; ok {
		existing.Value = value
		if units != "" {
			existing.Units = units
		}
		return nil
	}
	p.byName[name] = &Param{Name: name, Value: value, Units: units}
	p.order = append(p.order, name)
	return nil
}

// Freeze makes the set read-only. Idempotent.
func (p *Params) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

func (p *Params) Frozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

// Get returns the value for name.
func (p *Params) Get(name string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

func (p *Params) Float(name string, def float64) float64 {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return def
}

func (p *Params) Int(name string, def int) int {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	}
	return def
}

func (p *Params) Str(name, def string) string {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// List returns the parameters in insertion order.
func (p *Params) List() []Param {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Param, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.byName[name])
	}
	return out
}

// Len reports the number of parameters.
func (p *Params) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
