package engine

import (
	"context"
	"errors"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// FIELD HANDS — Plain attribute, reference, multi-reference
// ============================================================================
// The factory resolves the attribute path once and picks the concrete hand
// from the kind of its first hop:
//
//   reference        → foreignKeyHand   (linkable when one hop to a tracked type)
//   multi_reference  → manyToManyHand   (linkable when one hop to a tracked type)
//   anything else    → regularHand
// ============================================================================

func newFieldHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	attrs, err := env.Schema.ResolvePath(entityType, spec.Value)
	if err != nil {
		if errors.Is(err, schema.ErrPathTooDeep) {
			return nil, invalidColumn(spec, ReasonTooDeep, err)
		}
		return nil, invalidColumn(spec, ReasonNotExist, err)
	}

	first := attrs[0]
	base := handBase{
		env:    env,
		spec:   spec,
		title:  first.Label(),
		hidden: env.hidden(entityType, first.Key),
	}

	var sub *schema.Attribute
	if len(attrs) == 2 {
		sub = &attrs[1]
		base.title = first.Label() + " - " + sub.Label()
		base.hidden = base.hidden || env.hidden(first.Target, sub.Key)
	}

	switch first.Kind {
	case schema.KindReference:
		h := &foreignKeyHand{handBase: base, attr: first, sub: sub}
		if sub != nil {
			h.format = newFormatter(sub.Kind, sub.ChoiceLabel)
		} else {
			h.linkable = env.Schema.IsTracked(first.Target)
		}
		return h, nil
	case schema.KindMultiReference:
		h := &manyToManyHand{handBase: base, attr: first, sub: sub}
		if sub != nil {
			h.format = newFormatter(sub.Kind, sub.ChoiceLabel)
		} else {
			h.linkable = env.Schema.IsTracked(first.Target)
		}
		return h, nil
	default:
		return &regularHand{
			handBase: base,
			attr:     first,
			format:   newFormatter(first.Kind, first.ChoiceLabel),
		}, nil
	}
}

// ── regular ─────────────────────────────────────────────────────────────────

type regularHand struct {
	handBase
	attr   schema.Attribute
	format formatter
}

func (h *regularHand) Value(_ context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	return valueCell(h.format, e.Field(h.attr.Key)), nil
}

// ── foreign key ─────────────────────────────────────────────────────────────

type foreignKeyHand struct {
	handBase
	attr     schema.Attribute
	sub      *schema.Attribute
	format   formatter
	linkable bool
}

func (h *foreignKeyHand) Value(ctx context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	target, err := h.target(ctx, e)
	if err != nil || target == nil {
		return Null(), err
	}
	if !h.env.canView(user, target) {
		return Scalar(HiddenValue), nil
	}
	if h.sub == nil {
		return Scalar(target.String()), nil
	}
	return valueCell(h.format, target.Field(h.sub.Key)), nil
}

func (h *foreignKeyHand) LinkableTypes() []string {
	if !h.linkable {
		return nil
	}
	return []string{h.attr.Target}
}

func (h *foreignKeyHand) Targets(ctx context.Context, e *Entity, _ *User) ([]*Entity, error) {
	target, err := h.target(ctx, e)
	if err != nil || target == nil {
		return nil, err
	}
	return []*Entity{target}, nil
}

func (h *foreignKeyHand) target(ctx context.Context, e *Entity) (*Entity, error) {
	ids := schema.AsStrings(e.Field(h.attr.Key))
	if len(ids) == 0 {
		return nil, nil
	}
	target, err := h.env.Store.Get(ctx, h.attr.Target, ids[0])
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return target, err
}

// ── many to many ────────────────────────────────────────────────────────────

type manyToManyHand struct {
	handBase
	attr     schema.Attribute
	sub      *schema.Attribute
	format   formatter
	linkable bool
}

func (h *manyToManyHand) Value(ctx context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	targets, err := h.Targets(ctx, e, user)
	if err != nil {
		return Null(), err
	}
	display := entityName
	if h.sub != nil {
		display = func(t *Entity) string { return valueCell(h.format, t.Field(h.sub.Key)).String() }
	}
	return entityList(h.env, user, targets, display), nil
}

func (h *manyToManyHand) LinkableTypes() []string {
	if !h.linkable {
		return nil
	}
	return []string{h.attr.Target}
}

func (h *manyToManyHand) Targets(ctx context.Context, e *Entity, _ *User) ([]*Entity, error) {
	ids := schema.AsStrings(e.Field(h.attr.Key))
	targets := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		t, err := h.env.Store.Get(ctx, h.attr.Target, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
