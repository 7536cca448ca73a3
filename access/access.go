// Package access provides the credential and field-visibility adapters the
// engine consults before revealing entities and attributes.
package access

import (
	"slices"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

var (
	_ engine.Credentials     = (*Ownership)(nil)
	_ engine.FieldVisibility = HiddenFields(nil)
)

// ============================================================================
// OWNERSHIP — Who may view an entity
// ============================================================================

// Ownership lets superusers view everything, owners view their entities and
// team members view entities whose TeamField names one of their teams.
// Entities of Public types and entities without an owner are visible to any
// user, anonymous users see nothing else.
type Ownership struct {
	TeamField string   `yaml:"team_field"`
	Public    []string `yaml:"public"`
}

func (o *Ownership) CanView(user *engine.User, e *engine.Entity) bool {
	if slices.Contains(o.Public, e.Type) || e.Owner == "" {
		return true
	}
	if user == nil {
		return false
	}
	if user.Superuser || user.ID == e.Owner {
		return true
	}
	if o.TeamField == "" {
		return false
	}
	for _, team := range schema.AsStrings(e.Field(o.TeamField)) {
		if slices.Contains(user.Teams, team) {
			return true
		}
	}
	return false
}

// ============================================================================
// HIDDEN FIELDS — Attributes kept out of reports
// ============================================================================

// HiddenFields lists hidden fields per entity type. Fields are attribute
// keys or "custom:<id>".
type HiddenFields map[string][]string

func (h HiddenFields) IsHidden(entityType, field string) bool {
	return slices.Contains(h[entityType], field)
}

// Hide adds fields to the hidden set of entityType.
func (h HiddenFields) Hide(entityType string, fields ...string) {
	for _, f := range fields {
		if !h.IsHidden(entityType, f) {
			h[entityType] = append(h[entityType], f)
		}
	}
}

// HideCustom hides a custom field.
func (h HiddenFields) HideCustom(entityType, id string) {
	h.Hide(entityType, schema.CustomColumnPrefix+id)
}
