package engine

import (
	"fmt"
	"sort"
)

// ============================================================================
// REGISTRY — Column kind → Hand factory
// ============================================================================
// Built once at process start, sealed, then read concurrently without locks.
// Resolution of a ColumnSpec goes through the factory of its kind; a factory
// error is always an *InvalidColumnError.
// ============================================================================

// Factory builds the Hand of a column on entityType.
type Factory func(env *Env, entityType string, spec ColumnSpec) (Hand, error)

// Registry maps column kinds to factories.
type Registry struct {
	factories map[ColumnKind]Factory
	sealed    bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ColumnKind]Factory)}
}

// NewDefaultRegistry returns a sealed registry of every built-in kind.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, f := range map[ColumnKind]Factory{
		KindField:           newFieldHand,
		KindRelation:        newRelationHand,
		KindFunction:        newFunctionHand,
		KindCustom:          newCustomHand,
		KindAggregateField:  newAggregateFieldHand,
		KindAggregateCustom: newAggregateCustomHand,
		KindRelated:         newRelatedHand,
	} {
		if err := r.Register(kind, f); err != nil {
			panic(err)
		}
	}
	r.Seal()
	return r
}

// Register adds a factory. Registering a kind twice or after Seal is a
// configuration error.
func (r *Registry) Register(kind ColumnKind, f Factory) error {
	if r.sealed {
		return &ConfigurationError{Op: "register " + kind.String(), Err: ErrRegistrySealed}
	}
	if _, exists := r.factories[kind]; exists {
		return &ConfigurationError{Op: "register " + kind.String(), Err: ErrDuplicateKind}
	}
	r.factories[kind] = f
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

// Kinds returns the registered kinds in ascending order.
func (r *Registry) Kinds() []ColumnKind {
	kinds := make([]ColumnKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Resolve builds the Hand of spec on entityType.
func (r *Registry) Resolve(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	f, ok := r.factories[spec.Kind]
	if !ok {
		return nil, invalidColumn(spec, ReasonUnknownKind, ErrUnknownKind)
	}
	h, err := f(env, entityType, spec)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("factory for %s returned no hand", spec.Kind)
	}
	return h, nil
}
