package engine

import (
	"fmt"
	"strconv"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// CHART TYPES & AXIS CONSTRAINTS
// ============================================================================
// A chart groups the entities of its report along an abscissa and aggregates
// an ordinate per group. Which group kinds an abscissa cell supports is
// decided by the Constraints registry; an unsupported pair puts the chart in
// an error state instead of failing the fetch.
// ============================================================================

// GroupKind is the stable tag of an abscissa grouping. Values are persisted.
type GroupKind int

const (
	GroupDay      GroupKind = 1
	GroupMonth    GroupKind = 2
	GroupYear     GroupKind = 3
	GroupRange    GroupKind = 4 // Parameter: window size in days
	GroupFK       GroupKind = 5
	GroupRelation GroupKind = 6
	GroupChoice   GroupKind = 7

	GroupCustomDay    GroupKind = 11
	GroupCustomMonth  GroupKind = 12
	GroupCustomYear   GroupKind = 13
	GroupCustomRange  GroupKind = 14
	GroupCustomChoice GroupKind = 15
)

func (g GroupKind) String() string {
	switch g {
	case GroupDay:
		return "day"
	case GroupMonth:
		return "month"
	case GroupYear:
		return "year"
	case GroupRange:
		return "range"
	case GroupFK:
		return "fk"
	case GroupRelation:
		return "relation"
	case GroupChoice:
		return "choice"
	case GroupCustomDay:
		return "custom_day"
	case GroupCustomMonth:
		return "custom_month"
	case GroupCustomYear:
		return "custom_year"
	case GroupCustomRange:
		return "custom_range"
	case GroupCustomChoice:
		return "custom_choice"
	default:
		return fmt.Sprintf("group(%d)", int(g))
	}
}

// Abscissa is the grouping axis.
type Abscissa struct {
	Cell      ColumnRef `json:"cell" yaml:"cell"`
	Group     GroupKind `json:"group" yaml:"group"`
	Parameter string    `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// Ordinate is the aggregated axis. Cell is nil for count.
type Ordinate struct {
	Aggregation string     `json:"aggregation" yaml:"aggregation"`
	Cell        *ColumnRef `json:"cell,omitempty" yaml:"cell,omitempty"`
}

// ChartSpec is a persisted chart over the entities of a report.
type ChartSpec struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	ReportID  string   `json:"reportId" yaml:"report_id"`
	Abscissa  Abscissa `json:"abscissa" yaml:"abscissa"`
	Ordinate  Ordinate `json:"ordinate" yaml:"ordinate"`
	Ascending bool     `json:"ascending" yaml:"ascending"`
}

// ============================================================================
// CONSTRAINTS
// ============================================================================

// axis is a validated abscissa.
type axis struct {
	group    GroupKind
	cell     ColumnRef
	label    string
	unit     DateUnit // date groupings
	days     int      // range groupings
	attr     *schema.Attribute
	custom   *schema.CustomField
	relation *schema.RelationType
}

// abscissaConstraint says which cells a group kind accepts.
type abscissaConstraint struct {
	cellKind ColumnKind
	accepts  func(schema.ValueKind) bool
	unit     DateUnit
	ranged   bool
}

// Constraints is the registry of legal abscissa groupings.
type Constraints struct {
	abscissa map[GroupKind]abscissaConstraint
}

// NewConstraints returns the built-in groupings.
func NewConstraints() *Constraints {
	temporal := schema.ValueKind.Temporal
	isChoice := func(k schema.ValueKind) bool { return k == schema.KindChoice }
	isRef := func(k schema.ValueKind) bool { return k == schema.KindReference }

	return &Constraints{abscissa: map[GroupKind]abscissaConstraint{
		GroupDay:      {cellKind: KindField, accepts: temporal, unit: UnitDay},
		GroupMonth:    {cellKind: KindField, accepts: temporal, unit: UnitMonth},
		GroupYear:     {cellKind: KindField, accepts: temporal, unit: UnitYear},
		GroupRange:    {cellKind: KindField, accepts: temporal, ranged: true},
		GroupFK:       {cellKind: KindField, accepts: isRef},
		GroupRelation: {cellKind: KindRelation},
		GroupChoice:   {cellKind: KindField, accepts: isChoice},

		GroupCustomDay:    {cellKind: KindCustom, accepts: temporal, unit: UnitDay},
		GroupCustomMonth:  {cellKind: KindCustom, accepts: temporal, unit: UnitMonth},
		GroupCustomYear:   {cellKind: KindCustom, accepts: temporal, unit: UnitYear},
		GroupCustomRange:  {cellKind: KindCustom, accepts: temporal, ranged: true},
		GroupCustomChoice: {cellKind: KindCustom, accepts: isChoice},
	}}
}

// Groups returns the group kinds legal for a cell of entityType.
func (c *Constraints) Groups(env *Env, entityType string, cell ColumnRef) []GroupKind {
	var out []GroupKind
	for _, g := range []GroupKind{
		GroupDay, GroupMonth, GroupYear, GroupRange, GroupFK, GroupRelation, GroupChoice,
		GroupCustomDay, GroupCustomMonth, GroupCustomYear, GroupCustomRange, GroupCustomChoice,
	} {
		a := Abscissa{Cell: cell, Group: g, Parameter: "1"}
		if _, err := c.Abscissa(env, entityType, a, false); err == nil {
			out = append(out, g)
		}
	}
	return out
}

// Abscissa validates an abscissa. forNew additionally rejects hidden
// fields: existing charts keep working on fields hidden after the fact.
func (c *Constraints) Abscissa(env *Env, entityType string, a Abscissa, forNew bool) (*axis, *AxisError) {
	fail := func(msg string) (*axis, *AxisError) {
		return nil, &AxisError{Axis: "abscissa", Message: msg}
	}

	rule, ok := c.abscissa[a.Group]
	if !ok {
		return fail("the group kind is invalid")
	}
	if a.Cell.Kind != rule.cellKind {
		return fail("the group kind is not compatible with the field")
	}

	ax := &axis{group: a.Group, cell: a.Cell, unit: rule.unit}
	switch a.Cell.Kind {
	case KindField:
		et, ok := env.Schema.Type(entityType)
		if !ok {
			return fail("the entity type is invalid")
		}
		attr, ok := et.Attribute(a.Cell.Value)
		if !ok {
			return fail("the field is invalid")
		}
		if forNew && env.hidden(entityType, attr.Key) {
			return fail("the field is hidden")
		}
		if !rule.accepts(attr.Kind) {
			return fail("the group kind is not compatible with the field")
		}
		if attr.Kind == schema.KindReference {
			if _, ok := env.Schema.Type(attr.Target); !ok {
				return fail("the field is invalid")
			}
		}
		ax.attr, ax.label = attr, attr.Label()

	case KindCustom:
		cf, ok := env.Schema.CustomField(entityType, a.Cell.Value)
		if !ok || cf.Deleted {
			return fail("the custom field is invalid")
		}
		if forNew && env.hidden(entityType, schema.CustomColumnPrefix+cf.ID) {
			return fail("the custom field is hidden")
		}
		if !rule.accepts(cf.Kind) {
			return fail("the group kind is not compatible with the custom field")
		}
		ax.custom, ax.label = cf, cf.Name

	case KindRelation:
		rt, ok := env.Schema.RelationType(a.Cell.Value)
		if !ok || !rt.AllowsSubject(entityType) {
			return fail("the relation type is invalid")
		}
		ax.relation, ax.label = rt, rt.Predicate
	}

	if rule.ranged {
		days, err := strconv.Atoi(a.Parameter)
		if err != nil || days <= 0 {
			return fail("the parameter is invalid: a positive number of days is expected")
		}
		ax.days = days
	}
	return ax, nil
}

// Ordinate validates an ordinate. count takes no cell; other aggregations
// need a numeric field or custom field.
func (c *Constraints) Ordinate(env *Env, entityType string, o Ordinate, forNew bool) (*Ordinate, *AxisError) {
	fail := func(msg string) (*Ordinate, *AxisError) {
		return nil, &AxisError{Axis: "ordinate", Message: msg}
	}

	agg, ok := LookupAggregation(o.Aggregation)
	if !ok {
		return fail("the aggregation is invalid")
	}
	if !agg.NeedsCell {
		return &Ordinate{Aggregation: agg.ID}, nil
	}
	if o.Cell == nil {
		return fail("the aggregation needs a field")
	}

	switch o.Cell.Kind {
	case KindField:
		et, ok := env.Schema.Type(entityType)
		if !ok {
			return fail("the entity type is invalid")
		}
		attr, ok := et.Attribute(o.Cell.Value)
		if !ok {
			return fail("the field is invalid")
		}
		if forNew && env.hidden(entityType, attr.Key) {
			return fail("the field is hidden")
		}
		if !attr.Kind.Numeric() {
			return fail("the field is not aggregatable")
		}
	case KindCustom:
		cf, ok := env.Schema.CustomField(entityType, o.Cell.Value)
		if !ok || cf.Deleted {
			return fail("the custom field is invalid")
		}
		if forNew && env.hidden(entityType, schema.CustomColumnPrefix+cf.ID) {
			return fail("the custom field is hidden")
		}
		if !cf.Kind.Numeric() {
			return fail("the custom field is not aggregatable")
		}
	default:
		return fail("the field is not aggregatable")
	}

	cell := *o.Cell
	return &Ordinate{Aggregation: agg.ID, Cell: &cell}, nil
}
