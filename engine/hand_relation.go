package engine

import (
	"context"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// RELATION & RELATED HANDS — Entities reached through links
// ============================================================================
// relationHand follows a typed relationship (subject → objects).
// relatedHand follows an allow-listed reverse link: entities whose foreign
// key points back at the row entity.
// ============================================================================

// ── relation ────────────────────────────────────────────────────────────────

type relationHand struct {
	handBase
	rtype schema.RelationType
}

func newRelationHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	rt, ok := env.Schema.RelationType(spec.Value)
	if !ok || !rt.AllowsSubject(entityType) {
		return nil, invalidColumn(spec, ReasonInvalidRelation, nil)
	}
	title := rt.Predicate
	if title == "" {
		title = schema.LabelForKey(rt.Key)
	}
	return &relationHand{
		handBase: handBase{env: env, spec: spec, title: title},
		rtype:    *rt,
	}, nil
}

func (h *relationHand) Value(ctx context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	objects, err := h.Targets(ctx, e, user)
	if err != nil {
		return Null(), err
	}
	return entityList(h.env, user, objects, entityName), nil
}

// LinkableTypes returns the object-side types, every tracked type when the
// relation type does not restrict them.
func (h *relationHand) LinkableTypes() []string {
	if len(h.rtype.ObjectTypes) > 0 {
		return h.rtype.ObjectTypes
	}
	return h.env.Schema.TrackedTypes()
}

func (h *relationHand) Targets(ctx context.Context, e *Entity, _ *User) ([]*Entity, error) {
	return h.env.Store.Relations(ctx, e, h.rtype.Key)
}

// ── related ─────────────────────────────────────────────────────────────────

type relatedHand struct {
	handBase
	link schema.RelatedLink
}

func newRelatedHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	et, ok := env.Schema.Type(entityType)
	if !ok {
		return nil, invalidColumn(spec, ReasonNotAllowed, schema.ErrUnknownType)
	}
	link, ok := et.RelatedLink(spec.Value)
	if !ok {
		return nil, invalidColumn(spec, ReasonNotAllowed, nil)
	}
	if _, ok := env.Schema.Type(link.EntityType); !ok {
		return nil, invalidColumn(spec, ReasonNotAllowed, schema.ErrUnknownType)
	}
	title := link.DisplayName
	if title == "" {
		title = schema.LabelForKey(link.Key)
	}
	return &relatedHand{
		handBase: handBase{env: env, spec: spec, title: title},
		link:     *link,
	}, nil
}

func (h *relatedHand) Value(ctx context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	children, err := h.Targets(ctx, e, user)
	if err != nil {
		return Null(), err
	}
	return entityList(h.env, user, children, entityName), nil
}

func (h *relatedHand) LinkableTypes() []string { return []string{h.link.EntityType} }

// Targets returns the entities whose foreign key points at e, as the store
// returns them to user.
func (h *relatedHand) Targets(ctx context.Context, e *Entity, user *User) ([]*Entity, error) {
	scope := Scope{
		EntityType: h.link.EntityType,
		User:       user,
		Extra: []Condition{{
			Cell:   ColumnRef{Kind: KindField, Value: h.link.ForeignKey},
			Op:     OpEqual,
			Values: []string{e.ID},
		}},
	}
	return collect(ctx, h.env.Store, scope)
}

// collect drains a fetch.
func collect(ctx context.Context, src EntitySource, scope Scope) ([]*Entity, error) {
	cur, err := src.Fetch(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []*Entity
	for cur.Next(ctx) {
		out = append(out, cur.Entity())
	}
	return out, cur.Err()
}
