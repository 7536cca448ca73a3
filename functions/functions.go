// Package functions serves computed report fields.
package functions

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

var _ engine.FunctionFields = (*Registry)(nil)

// AnyType registers a function for every entity type.
const AnyType = "*"

// Registry maps (entity type, name) to computed fields. Functions registered
// for a type shadow those registered for AnyType.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]map[string]engine.Function
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used by date-relative functions.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns a registry holding the built-in functions:
//
//	display_name  the entity's display name
//	age_days      whole days since the "created" attribute
func New(opts ...Option) *Registry {
	r := &Registry{
		funcs: make(map[string]map[string]engine.Function),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Register(AnyType, engine.Function{Name: "display_name", Label: "Display name", Eval: displayName})
	r.Register(AnyType, engine.Function{Name: "age_days", Label: "Age (days)", Eval: r.ageDays})
	return r
}

// Register adds or replaces a function.
func (r *Registry) Register(entityType string, fn engine.Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName := r.funcs[entityType]
	if byName == nil {
		byName = make(map[string]engine.Function)
		r.funcs[entityType] = byName
	}
	byName[fn.Name] = fn
}

func (r *Registry) Function(entityType, name string) (engine.Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs[entityType][name]; ok {
		return fn, true
	}
	fn, ok := r.funcs[AnyType][name]
	return fn, ok
}

func displayName(_ context.Context, e *engine.Entity, _ *engine.User) (string, error) {
	return e.String(), nil
}

func (r *Registry) ageDays(_ context.Context, e *engine.Entity, _ *engine.User) (string, error) {
	v := e.Field("created")
	if v == nil {
		return "", nil
	}
	created, ok := schema.AsTime(v)
	if !ok {
		return "", fmt.Errorf("age_days: created of %s %s is not a date", e.Type, e.ID)
	}
	days := int(r.now().UTC().Sub(created.UTC()).Hours() / 24)
	return strconv.Itoa(days), nil
}
