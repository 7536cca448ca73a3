package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// ============================================================================
// FILTERS — Conditions, saved filters and drill-down locators
// ============================================================================
// Conditions are AND-combined. Values of one condition are OR-combined.
// Stores evaluate them; the engine only builds them (saved filters, bucket
// bounds, child restrictions).
// ============================================================================

// Operator is a condition operator.
type Operator string

const (
	OpEqual    Operator = "eq"       // any value equals Values[0]
	OpIn       Operator = "in"       // any value in Values
	OpIsNull   Operator = "isnull"   // no value
	OpNotNull  Operator = "notnull"  // some value
	OpYear     Operator = "year"     // date in year Values[0] ("2024")
	OpMonth    Operator = "month"    // date in month Values[0] ("2024-03")
	OpDay      Operator = "day"      // date on day Values[0] ("2024-03-05")
	OpRange    Operator = "range"    // date within [Values[0], Values[1]], inclusive days
	OpContains Operator = "contains" // text contains Values[0], case-insensitive
)

// Condition restricts a scope on one cell. Field cells match declared or
// built-in attributes (one hop), custom cells match custom field values and
// relation cells match the ids of related objects.
type Condition struct {
	Cell   ColumnRef `json:"cell" yaml:"cell"`
	Op     Operator  `json:"op" yaml:"op"`
	Values []string  `json:"values,omitempty" yaml:"values,omitempty"`
}

// Validate checks operator arity.
func (c Condition) Validate() error {
	switch c.Op {
	case OpIsNull, OpNotNull:
		return nil
	case OpEqual, OpYear, OpMonth, OpDay, OpContains:
		if len(c.Values) != 1 {
			return fmt.Errorf("condition %s %s: want 1 value, got %d", c.Cell, c.Op, len(c.Values))
		}
	case OpRange:
		if len(c.Values) != 2 {
			return fmt.Errorf("condition %s %s: want 2 values, got %d", c.Cell, c.Op, len(c.Values))
		}
	case OpIn:
	default:
		return fmt.Errorf("condition %s: unknown operator %q", c.Cell, c.Op)
	}
	return nil
}

// Filter is a saved, named set of conditions over one entity type.
type Filter struct {
	ID         string      `json:"id" yaml:"id"`
	EntityType string      `json:"entityType" yaml:"entity_type"`
	Name       string      `json:"name" yaml:"name"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// Clone returns a deep copy of f.
func (f *Filter) Clone() *Filter {
	c := *f
	c.Conditions = slices.Clone(f.Conditions)
	for i := range c.Conditions {
		c.Conditions[i].Values = slices.Clone(c.Conditions[i].Values)
	}
	return &c
}

// idIn restricts a scope to the given entity ids.
func idIn(ids []string) Condition {
	return Condition{Cell: ColumnRef{Kind: KindField, Value: "id"}, Op: OpIn, Values: ids}
}

// ============================================================================
// LOCATOR — Opaque drill-down reference to a bucket's entities
// ============================================================================

// Locator is what a chart bucket links to: the report's entity type and
// filter plus the bucket conditions. Its encoded form is JSON so front ends
// can pass it back verbatim.
type Locator struct {
	EntityType string      `json:"type"`
	FilterID   string      `json:"filter,omitempty"`
	Conditions []Condition `json:"q"`
}

// Encode returns the string form of the locator.
func (l Locator) Encode() string {
	b, err := json.Marshal(l)
	if err != nil {
		// Only strings and ints; cannot fail.
		panic(fmt.Sprintf("encode locator: %v", err))
	}
	return string(b)
}

// ParseLocator decodes a locator produced by Encode.
func ParseLocator(s string) (Locator, error) {
	var l Locator
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return Locator{}, fmt.Errorf("parse locator: %w", err)
	}
	if l.EntityType == "" {
		return Locator{}, fmt.Errorf("parse locator: missing entity type")
	}
	for _, c := range l.Conditions {
		if err := c.Validate(); err != nil {
			return Locator{}, fmt.Errorf("parse locator: %w", err)
		}
	}
	return l, nil
}

// Locate returns the entities a locator points at, as seen by user.
func Locate(ctx context.Context, env *Env, locator string, user *User) (Cursor, error) {
	l, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	scope, err := env.scopeFor(ctx, l.EntityType, l.FilterID, user, l.Conditions)
	if err != nil {
		return nil, err
	}
	return env.Store.Fetch(ctx, scope)
}
