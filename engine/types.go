package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
// ENGINE TYPES — Columns, reports, entities and cells
// ============================================================================
// A report is an ordered list of ColumnSpecs over one entity type. Each spec
// is resolved once per fetch into a Hand (see hand.go) which turns an entity
// into a Cell. Cells are either scalars or nested child lines produced by an
// expanded sub-report.
// ============================================================================

// ColumnKind is the stable tag of a column type. Values are persisted.
type ColumnKind int

const (
	KindField           ColumnKind = 1 // attribute path: plain, reference, multi-reference
	KindRelation        ColumnKind = 2 // relationship type key
	KindFunction        ColumnKind = 3 // computed field name
	KindCustom          ColumnKind = 4 // custom field id
	KindAggregateField  ColumnKind = 5 // "<attribute>__<aggregation>"
	KindAggregateCustom ColumnKind = 6 // "<custom field id>__<aggregation>"
	KindRelated         ColumnKind = 7 // reverse link key
)

func (k ColumnKind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindRelation:
		return "relation"
	case KindFunction:
		return "function"
	case KindCustom:
		return "custom"
	case KindAggregateField:
		return "aggregate_field"
	case KindAggregateCustom:
		return "aggregate_custom"
	case KindRelated:
		return "related"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ============================================================================
// COLUMN REF — Portable cell reference ("<kind>-<value>")
// ============================================================================

// ColumnRef identifies a cell independently of any report: "1-sector",
// "4-12", "2-employed_by". Chart axes and filter conditions use it too.
type ColumnRef struct {
	Kind  ColumnKind
	Value string
}

func (r ColumnRef) String() string {
	return strconv.Itoa(int(r.Kind)) + "-" + r.Value
}

// IsZero reports whether the reference is unset.
func (r ColumnRef) IsZero() bool { return r.Kind == 0 && r.Value == "" }

// ParseColumnRef decodes the "<kind>-<value>" form. The value may itself
// contain dashes.
func ParseColumnRef(s string) (ColumnRef, error) {
	k, v, ok := strings.Cut(s, "-")
	if !ok || v == "" {
		return ColumnRef{}, fmt.Errorf("malformed column reference %q", s)
	}
	n, err := strconv.Atoi(k)
	if err != nil || n <= 0 {
		return ColumnRef{}, fmt.Errorf("malformed column reference %q: bad kind", s)
	}
	return ColumnRef{Kind: ColumnKind(n), Value: v}, nil
}

func (r ColumnRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ColumnRef) UnmarshalText(b []byte) error {
	ref, err := ParseColumnRef(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ============================================================================
// REPORT — Persisted column configuration
// ============================================================================

// ColumnSpec is the persisted description of one report column.
// At most one column of a report is Selected: the one whose sub-report is
// expanded into extra rows instead of being flattened into a single cell.
type ColumnSpec struct {
	ID          string     `json:"id" yaml:"id"`
	ReportID    string     `json:"reportId,omitempty" yaml:"report_id,omitempty"`
	Kind        ColumnKind `json:"kind" yaml:"kind"`
	Value       string     `json:"value" yaml:"value"`
	Order       int        `json:"order" yaml:"order"`
	Selected    bool       `json:"selected,omitempty" yaml:"selected,omitempty"`
	SubReportID string     `json:"subReportId,omitempty" yaml:"sub_report_id,omitempty"`
}

// Ref returns the portable reference of the column.
func (c ColumnSpec) Ref() ColumnRef { return ColumnRef{Kind: c.Kind, Value: c.Value} }

// Report is an ordered set of columns over one entity type.
type Report struct {
	ID         string       `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	EntityType string       `json:"entityType" yaml:"entity_type"`
	FilterID   string       `json:"filterId,omitempty" yaml:"filter_id,omitempty"`
	Columns    []ColumnSpec `json:"columns" yaml:"columns"`
}

// SortedColumns returns the columns by persisted order. Ties keep their
// slice position.
func (r *Report) SortedColumns() []ColumnSpec {
	cols := make([]ColumnSpec, len(r.Columns))
	copy(cols, r.Columns)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	return cols
}

// Column returns the column with the given id.
func (r *Report) Column(id string) (*ColumnSpec, bool) {
	for i := range r.Columns {
		if r.Columns[i].ID == id {
			return &r.Columns[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	c := *r
	c.Columns = make([]ColumnSpec, len(r.Columns))
	copy(c.Columns, r.Columns)
	return &c
}

// ============================================================================
// ENTITY & USER
// ============================================================================

// Entity is one business record. Fields hold typed values decoded per
// attribute kind (see schema.ParseValue); Custom holds custom field values
// keyed by custom field id.
type Entity struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Owner  string         `json:"owner,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
}

func (e *Entity) String() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Type + " " + e.ID
}

// Field returns a declared or built-in attribute value, nil when absent.
func (e *Entity) Field(key string) any {
	switch key {
	case "id":
		return e.ID
	case "name":
		return e.Name
	case "owner":
		return e.Owner
	}
	return e.Fields[key]
}

// CustomValue returns the value of a custom field, nil when absent.
func (e *Entity) CustomValue(id string) any {
	return e.Custom[id]
}

// User is the principal a fetch runs for.
type User struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Superuser bool     `json:"superuser,omitempty" yaml:"superuser,omitempty"`
	Teams     []string `json:"teams,omitempty" yaml:"teams,omitempty"`
}

// ============================================================================
// CELL — Tagged row element
// ============================================================================

// HiddenValue replaces values the user is not allowed to see.
const HiddenValue = "??"

type CellKind uint8

const (
	CellNull CellKind = iota
	CellScalar
	CellNested
)

// Cell is one element of a raw line: a scalar, nothing, or the lines of an
// expanded sub-report (one per child entity).
type Cell struct {
	Kind  CellKind
	Text  string
	Lines [][]Cell
}

func Scalar(s string) Cell       { return Cell{Kind: CellScalar, Text: s} }
func Null() Cell                 { return Cell{Kind: CellNull} }
func Nested(lines [][]Cell) Cell { return Cell{Kind: CellNested, Lines: lines} }
func (c Cell) IsNested() bool    { return c.Kind == CellNested }
func (c Cell) IsNull() bool      { return c.Kind == CellNull }

// String flattens the cell: values of one child line are joined by "/",
// child lines by ", ".
func (c Cell) String() string {
	switch c.Kind {
	case CellScalar:
		return c.Text
	case CellNested:
		return flattenLines(c.Lines)
	default:
		return ""
	}
}

func flattenLines(lines [][]Cell) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		vals := make([]string, len(line))
		for i, c := range line {
			vals[i] = c.String()
		}
		parts = append(parts, strings.Join(vals, "/"))
	}
	return strings.Join(parts, ", ")
}
