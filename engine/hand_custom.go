package engine

import (
	"context"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// CUSTOM & FUNCTION HANDS
// ============================================================================

// ── custom field ────────────────────────────────────────────────────────────

type customHand struct {
	handBase
	field  schema.CustomField
	format formatter
}

func newCustomHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	cf, ok := env.Schema.CustomField(entityType, spec.Value)
	if !ok || cf.Deleted {
		return nil, invalidColumn(spec, ReasonInvalidCustom, nil)
	}
	return &customHand{
		handBase: handBase{
			env:    env,
			spec:   spec,
			title:  cf.Name,
			hidden: env.hidden(entityType, schema.CustomColumnPrefix+cf.ID),
		},
		field:  *cf,
		format: newFormatter(cf.Kind, cf.ChoiceLabel),
	}, nil
}

func (h *customHand) Value(_ context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	return valueCell(h.format, e.CustomValue(h.field.ID)), nil
}

// ── computed field ──────────────────────────────────────────────────────────

type functionHand struct {
	handBase
	fn Function
}

func newFunctionHand(env *Env, entityType string, spec ColumnSpec) (Hand, error) {
	if env.Functions == nil {
		return nil, invalidColumn(spec, ReasonInvalidFunction, nil)
	}
	fn, ok := env.Functions.Function(entityType, spec.Value)
	if !ok || fn.Eval == nil {
		return nil, invalidColumn(spec, ReasonInvalidFunction, nil)
	}
	title := fn.Label
	if title == "" {
		title = schema.LabelForKey(fn.Name)
	}
	return &functionHand{
		handBase: handBase{env: env, spec: spec, title: title},
		fn:       fn,
	}, nil
}

func (h *functionHand) Value(ctx context.Context, e *Entity, user *User, _ Scope) (Cell, error) {
	if !h.env.canView(user, e) {
		return Scalar(HiddenValue), nil
	}
	s, err := h.fn.Eval(ctx, e, user)
	if err != nil {
		return Null(), err
	}
	return Scalar(s), nil
}
