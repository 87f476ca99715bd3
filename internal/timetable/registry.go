package timetable

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"labrun/pkg/measure"
)

// Factory builds a fresh procedure instance for one scheduled run.
// params carries the entry's configured parameter overrides.
type Factory func(params map[string]any) (measure.Procedure, error)

// Registry maps procedure names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return fmt.Errorf("timetable: invalid registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("timetable: procedure %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) Build(name string, params map[string]any) (measure.Procedure, error) {
	r.mu.Lock()
	f := r.factories[name]
	r.mu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("timetable: unknown procedure %q", name)
	}
	return f(params)
}

// Names lists registered procedures, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
