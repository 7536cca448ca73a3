package engine

import (
	"context"
	"strings"
	"time"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// HAND — Runtime value extractor bound to one ColumnSpec
// ============================================================================
// Hands are built by the Registry once per fetch and reused for every row.
// Value checks view permission first and answers HiddenValue when denied;
// aggregate hands work on an already-credentialed scope and never do.
// ============================================================================

// Hand turns entities into cells for one column.
type Hand interface {
	Spec() ColumnSpec
	Title() string
	Hidden() bool
	Value(ctx context.Context, e *Entity, user *User, scope Scope) (Cell, error)
}

// Linkable hands can host a sub-report over the entities they point at.
type Linkable interface {
	Hand
	// LinkableTypes lists the entity types a sub-report may be over.
	LinkableTypes() []string
	// Targets returns the entities of e the sub-report iterates.
	Targets(ctx context.Context, e *Entity, user *User) ([]*Entity, error)
}

// linkableTo returns h as a Linkable when it can host a sub-report over
// entityType.
func linkableTo(h Hand, entityType string) (Linkable, bool) {
	l, ok := h.(Linkable)
	if !ok {
		return nil, false
	}
	for _, t := range l.LinkableTypes() {
		if t == entityType {
			return l, true
		}
	}
	return nil, false
}

type handBase struct {
	env    *Env
	spec   ColumnSpec
	title  string
	hidden bool
}

func (h *handBase) Spec() ColumnSpec { return h.spec }
func (h *handBase) Title() string    { return h.title }
func (h *handBase) Hidden() bool     { return h.hidden }

// ============================================================================
// FORMATTERS — chosen once per hand from the attribute kind
// ============================================================================

type formatter func(v any) string

func newFormatter(kind schema.ValueKind, choiceLabel func(string) string) formatter {
	switch kind {
	case schema.KindChoice:
		return func(v any) string {
			return choiceLabel(schema.FormatValue(kind, v))
		}
	case schema.KindMultiChoice:
		return func(v any) string {
			items := schema.AsStrings(v)
			labels := make([]string, len(items))
			for i, it := range items {
				labels[i] = choiceLabel(it)
			}
			return strings.Join(labels, ", ")
		}
	case schema.KindBool:
		return func(v any) string {
			if b, ok := v.(bool); ok {
				if b {
					return "Yes"
				}
				return "No"
			}
			return schema.FormatValue(kind, v)
		}
	case schema.KindDateTime:
		return func(v any) string {
			if t, ok := v.(time.Time); ok {
				return t.UTC().Format("2006-01-02 15:04")
			}
			return schema.FormatValue(kind, v)
		}
	case schema.KindDecimal:
		return func(v any) string {
			if d, ok := ToDecimal(v); ok {
				return d.String()
			}
			return schema.FormatValue(kind, v)
		}
	default:
		return func(v any) string { return schema.FormatValue(kind, v) }
	}
}

// valueCell renders a decoded value; absent values are Null.
func valueCell(format formatter, v any) Cell {
	if v == nil {
		return Null()
	}
	if items, ok := v.([]string); ok && len(items) == 0 {
		return Null()
	}
	return Scalar(format(v))
}

// entityList renders related entities joined by ", ". Entities the user may
// not view show as HiddenValue.
func entityList(env *Env, user *User, ents []*Entity, display func(*Entity) string) Cell {
	if len(ents) == 0 {
		return Null()
	}
	parts := make([]string, len(ents))
	for i, e := range ents {
		if env.canView(user, e) {
			parts[i] = display(e)
		} else {
			parts[i] = HiddenValue
		}
	}
	return Scalar(strings.Join(parts, ", "))
}

func entityName(e *Entity) string { return e.String() }
