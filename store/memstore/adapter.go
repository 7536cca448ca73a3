package memstore

import (
	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// ADAPTER — Typed structs as entities
// ============================================================================
//
// Usage:
//
//	orgs := memstore.NewAdapter("org", func(o Org) string { return o.ID }).
//	    Name(func(o Org) string { return o.Name }).
//	    Field("capital", func(o Org) any { return o.Capital }).
//	    Field("sector", func(o Org) any { return o.SectorID })
//
//	orgs.Bind(store, data)
//
// Accessors must return the Go type schema.ParseValue produces for the
// attribute kind (int64, decimal.Decimal, time.Time, []string, ...), or nil.
// ============================================================================

// Adapter builds entities of one type from typed structs.
// Declare once, bind many times.
type Adapter[T any] struct {
	entityType string
	id         func(T) string
	name       func(T) string
	owner      func(T) string
	fieldOrder []string
	fields     map[string]func(T) any
	custom     map[string]func(T) any
}

// NewAdapter creates an adapter for entityType.
func NewAdapter[T any](entityType string, id func(T) string) *Adapter[T] {
	return &Adapter[T]{
		entityType: entityType,
		id:         id,
		fields:     make(map[string]func(T) any),
		custom:     make(map[string]func(T) any),
	}
}

// Name registers the display name accessor.
func (a *Adapter[T]) Name(fn func(T) string) *Adapter[T] {
	a.name = fn
	return a
}

// Owner registers the owner accessor used by ownership credentials.
func (a *Adapter[T]) Owner(fn func(T) string) *Adapter[T] {
	a.owner = fn
	return a
}

// Field registers an attribute accessor.
func (a *Adapter[T]) Field(key string, fn func(T) any) *Adapter[T] {
	if _, exists := a.fields[key]; !exists {
		a.fieldOrder = append(a.fieldOrder, key)
	}
	a.fields[key] = fn
	return a
}

// Custom registers a custom field accessor by custom field id.
func (a *Adapter[T]) Custom(id string, fn func(T) any) *Adapter[T] {
	a.custom[id] = fn
	return a
}

// Keys returns the registered attribute keys in registration order.
func (a *Adapter[T]) Keys() []string { return a.fieldOrder }

// Entity converts one value. Nil accessor results are left out.
func (a *Adapter[T]) Entity(v T) *engine.Entity {
	e := &engine.Entity{
		ID:     a.id(v),
		Type:   a.entityType,
		Fields: make(map[string]any, len(a.fields)),
	}
	if a.name != nil {
		e.Name = a.name(v)
	}
	if a.owner != nil {
		e.Owner = a.owner(v)
	}
	for key, fn := range a.fields {
		if val := fn(v); val != nil {
			e.Fields[key] = val
		}
	}
	if len(a.custom) > 0 {
		e.Custom = make(map[string]any, len(a.custom))
		for id, fn := range a.custom {
			if val := fn(v); val != nil {
				e.Custom[id] = val
			}
		}
	}
	return e
}

// Bind converts data and adds it to s in slice order. The returned entities
// are the stored ones, usable with Store.Relate.
func (a *Adapter[T]) Bind(s *Store, data []T) []*engine.Entity {
	out := make([]*engine.Entity, len(data))
	for i, v := range data {
		out[i] = a.Entity(v)
	}
	s.Add(out...)
	return out
}
