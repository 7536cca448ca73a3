package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// MATCHING — Single-pass condition evaluation
// ============================================================================
// Checks every condition per entity in one loop and returns the positions of
// the entities that pass: AND across conditions, OR across the values of one
// condition. Text comparisons are case-insensitive.
// ============================================================================

// match returns the positions of the entities of scope. Callers hold s.mu.
func (s *Store) match(scope engine.Scope) []int {
	conds := scope.Conditions()
	compiled := make([]compiledCondition, len(conds))
	for i, c := range conds {
		compiled[i] = compile(c)
	}

	positions := s.byType[scope.EntityType]
	out := make([]int, 0, len(positions))
	for _, pos := range positions {
		e := s.entities[pos]
		if !s.visible(scope.User, e) {
			continue
		}
		pass := true
		for _, c := range compiled {
			if !c.match(s.cellValues(e, c.cell)) {
				pass = false
				break
			}
		}
		if pass {
			out = append(out, pos)
		}
	}
	return out
}

// cellValues returns the decoded values of a cell on e, multi-valued fields
// flattened. Callers hold s.mu.
func (s *Store) cellValues(e *engine.Entity, ref engine.ColumnRef) []any {
	switch ref.Kind {
	case engine.KindField:
		return s.fieldValues(e, ref.Value)
	case engine.KindCustom:
		return flatten(e.CustomValue(ref.Value))
	case engine.KindRelation:
		objects := s.objectsOf(e, ref.Value)
		out := make([]any, len(objects))
		for i, o := range objects {
			out[i] = o.ID
		}
		return out
	}
	return nil
}

// fieldValues follows an attribute path of at most two hops.
func (s *Store) fieldValues(e *engine.Entity, path string) []any {
	head, rest, hop := strings.Cut(path, schema.PathSeparator)
	values := flatten(e.Field(head))
	if !hop || s.schema == nil {
		return values
	}

	et, ok := s.schema.Type(e.Type)
	if !ok {
		return nil
	}
	attr, ok := et.Attribute(head)
	if !ok || !attr.Kind.Reference() {
		return nil
	}
	var out []any
	for _, v := range values {
		id, _ := v.(string)
		if target, ok := s.byID[attr.Target][id]; ok {
			out = append(out, flatten(target.Field(rest))...)
		}
	}
	return out
}

func flatten(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case string:
		if val == "" {
			return nil
		}
	}
	return []any{v}
}

// ============================================================================
// CONDITIONS
// ============================================================================

type compiledCondition struct {
	cell  engine.ColumnRef
	match func(values []any) bool
}

func compile(c engine.Condition) compiledCondition {
	cc := compiledCondition{cell: c.Cell}
	switch c.Op {
	case engine.OpIsNull:
		cc.match = func(values []any) bool { return len(values) == 0 }
	case engine.OpNotNull:
		cc.match = func(values []any) bool { return len(values) > 0 }
	case engine.OpEqual, engine.OpIn:
		set := toLowerSet(c.Values)
		cc.match = anyValue(func(v any) bool { return set[strings.ToLower(text(v))] })
	case engine.OpContains:
		needle := strings.ToLower(first(c.Values))
		cc.match = anyValue(func(v any) bool { return strings.Contains(strings.ToLower(text(v)), needle) })
	case engine.OpYear:
		cc.match = unitMatch(engine.UnitYear, first(c.Values))
	case engine.OpMonth:
		cc.match = unitMatch(engine.UnitMonth, first(c.Values))
	case engine.OpDay:
		cc.match = unitMatch(engine.UnitDay, first(c.Values))
	case engine.OpRange:
		cc.match = rangeMatch(c.Values)
	default:
		cc.match = func([]any) bool { return false }
	}
	return cc
}

func anyValue(pred func(v any) bool) func([]any) bool {
	return func(values []any) bool {
		for _, v := range values {
			if pred(v) {
				return true
			}
		}
		return false
	}
}

func unitMatch(unit engine.DateUnit, key string) func([]any) bool {
	return anyValue(func(v any) bool {
		t, ok := schema.AsTime(v)
		return ok && unit.Key(t.UTC()) == key
	})
}

func rangeMatch(bounds []string) func([]any) bool {
	if len(bounds) != 2 {
		return func([]any) bool { return false }
	}
	lo, err1 := time.Parse(schema.DateLayout, bounds[0])
	hi, err2 := time.Parse(schema.DateLayout, bounds[1])
	if err1 != nil || err2 != nil {
		return func([]any) bool { return false }
	}
	return anyValue(func(v any) bool {
		t, ok := schema.AsTime(v)
		if !ok {
			return false
		}
		day := engine.UnitDay.Truncate(t)
		return !day.Before(lo) && !day.After(hi)
	})
}

func text(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(schema.DateLayout)
	}
	return schema.FormatValue(schema.KindText, v)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// toLowerSet converts a string slice to a lowercase lookup set.
func toLowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

// ============================================================================
// VIEW — Cursor over matched entities
// ============================================================================

// view iterates the entities at indices of parent. No entity is copied.
type view struct {
	parent  []*engine.Entity
	indices []int
	pos     int
	err     error
}

func (v *view) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		v.err = err
		return false
	}
	if v.pos >= len(v.indices) {
		return false
	}
	v.pos++
	return true
}

func (v *view) Entity() *engine.Entity {
	if v.pos == 0 || v.pos > len(v.indices) {
		return nil
	}
	return v.parent[v.indices[v.pos-1]]
}

func (v *view) Err() error   { return v.err }
func (v *view) Close() error { return nil }
