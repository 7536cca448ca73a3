package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// AGGREGATE HANDS — One value over the whole scope
// ============================================================================
// Value is "<attribute or custom field id>__<aggregation>", split on the last
// separator. The result only depends on the scope, so it is computed once
// per scope key and cached for the lifetime of the hand.
// ============================================================================

type aggregateHand struct {
	handBase
	ref         ColumnRef // cell aggregated over
	aggregation string

	mu    sync.Mutex
	cache map[uint64]Cell
}

// splitAggregate splits "capital__sum" into "capital" and "sum".
func splitAggregate(value string) (cell, aggregation string, ok bool) {
	i := strings.LastIndex(value, schema.PathSeparator)
	if i <= 0 || i+len(schema.PathSeparator) >= len(value) {
		return "", "", false
	}
	return value[:i], value[i+len(schema.PathSeparator):], true
}

// aggregationFor validates the aggregation part of a column value. count
// needs no cell, so it is not a column aggregate.
func aggregationFor(spec ColumnSpec) (cell string, agg Aggregation, err error) {
	cell, id, ok := splitAggregate(spec.Value)
	if !ok {
		return "", Aggregation{}, invalidColumn(spec, ReasonInvalidAgg, nil)
	}
	agg, ok = LookupAggregation(id)
	if !ok || !agg.NeedsCell {
		return "", Aggregation{}, invalidColumn(spec, ReasonInvalidAgg, nil)
	}
	return cell, agg, nil
}

func newAggregateFieldHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	key, agg, err := aggregationFor(spec)
	if err != nil {
		return nil, err
	}
	et, ok := env.Schema.Type(entityType)
	if !ok {
		return nil, invalidColumn(spec, ReasonNotExist, schema.ErrUnknownType)
	}
	attr, ok := et.Attribute(key)
	if !ok {
		return nil, invalidColumn(spec, ReasonNotExist, schema.ErrUnknownAttribute)
	}
	if !attr.Kind.Numeric() {
		return nil, invalidColumn(spec, ReasonNotAggregatable, nil)
	}
	return &aggregateHand{
		handBase: handBase{
			env:    env,
			spec:   spec,
			title:  attr.Label() + " - " + agg.Label,
			hidden: env.hidden(entityType, attr.Key),
		},
		ref:         ColumnRef{Kind: KindField, Value: attr.Key},
		aggregation: agg.ID,
		cache:       make(map[uint64]Cell),
	}, nil
}

func newAggregateCustomHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	id, agg, err := aggregationFor(spec)
	if err != nil {
		return nil, err
	}
	cf, ok := env.Schema.CustomField(entityType, id)
	if !ok || cf.Deleted {
		return nil, invalidColumn(spec, ReasonInvalidCustom, nil)
	}
	if !cf.Kind.Numeric() {
		return nil, invalidColumn(spec, ReasonNotAggregatable, nil)
	}
	return &aggregateHand{
		handBase: handBase{
			env:    env,
			spec:   spec,
			title:  cf.Name + " - " + agg.Label,
			hidden: env.hidden(entityType, schema.CustomColumnPrefix+cf.ID),
		},
		ref:         ColumnRef{Kind: KindCustom, Value: cf.ID},
		aggregation: agg.ID,
		cache:       make(map[uint64]Cell),
	}, nil
}

// Value ignores e: the scope is already credentialed.
func (h *aggregateHand) Value(ctx context.Context, _ *Entity, _ *User, scope Scope) (Cell, error) {
	key := scope.Key()

	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.cache[key]; ok {
		return c, nil
	}
	d, err := h.env.Store.Aggregate(ctx, scope, h.ref, h.aggregation)
	if err != nil {
		return Null(), err
	}
	c := Scalar(FormatAggregate(h.aggregation, d))
	h.cache[key] = c
	return c, nil
}
