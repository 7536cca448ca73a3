package schema

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ============================================================================
// SCHEMA — Describes the entity types reports and charts are built over
// ============================================================================
// Loaded from configuration (YAML) or discovered from CSV headers.
// The engine uses it to validate column references, pick a value formatter
// per attribute kind, and decide which group kinds a chart axis supports.
// ============================================================================

// PathSeparator joins the hops of an attribute path ("sector__title") and the
// parts of composite column values ("capital__sum").
const PathSeparator = "__"

var (
	ErrUnknownType      = errors.New("unknown entity type")
	ErrUnknownAttribute = errors.New("attribute does not exist")
	ErrPathTooDeep      = errors.New("attribute path too deep")
)

// ValueKind classifies attribute and custom-field values.
type ValueKind string

const (
	KindText           ValueKind = "text"
	KindInteger        ValueKind = "integer"
	KindDecimal        ValueKind = "decimal"
	KindBool           ValueKind = "bool"
	KindDate           ValueKind = "date"
	KindDateTime       ValueKind = "datetime"
	KindChoice         ValueKind = "choice"
	KindMultiChoice    ValueKind = "multi_choice"
	KindReference      ValueKind = "reference"
	KindMultiReference ValueKind = "multi_reference"
)

// Numeric reports whether values of this kind can be summed and averaged.
func (k ValueKind) Numeric() bool { return k == KindInteger || k == KindDecimal }

// Temporal reports whether values of this kind are dates.
func (k ValueKind) Temporal() bool { return k == KindDate || k == KindDateTime }

// Reference reports whether values of this kind point at other records.
func (k ValueKind) Reference() bool { return k == KindReference || k == KindMultiReference }

// Multiple reports whether a value of this kind holds a list.
func (k ValueKind) Multiple() bool { return k == KindMultiReference || k == KindMultiChoice }

// Config describes every entity type known to a deployment.
type Config struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Types         []EntityType   `json:"types" yaml:"types"`
	CustomFields  []CustomField  `json:"customFields,omitempty" yaml:"custom_fields,omitempty"`
	RelationTypes []RelationType `json:"relationTypes,omitempty" yaml:"relation_types,omitempty"`
}

// EntityType is a kind of record. Tracked types are first-class entities that
// can host sub-reports; untracked types are lookup tables (sectors, statuses).
type EntityType struct {
	Key         string        `json:"key" yaml:"key"`
	DisplayName string        `json:"displayName" yaml:"display_name"`
	Tracked     bool          `json:"tracked" yaml:"tracked"`
	Attributes  []Attribute   `json:"attributes" yaml:"attributes"`
	Related     []RelatedLink `json:"related,omitempty" yaml:"related,omitempty"`
}

// Attribute is a declared field of an entity type.
type Attribute struct {
	Key         string    `json:"key" yaml:"key"`
	DisplayName string    `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Kind        ValueKind `json:"kind" yaml:"kind"`
	Target      string    `json:"target,omitempty" yaml:"target,omitempty"` // entity type key for references
	Choices     []Choice  `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Choice is one value of an enumerated attribute or custom field.
type Choice struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// CustomField is a user-defined attribute attached to one entity type.
type CustomField struct {
	ID         string    `json:"id" yaml:"id"`
	EntityType string    `json:"entityType" yaml:"entity_type"`
	Name       string    `json:"name" yaml:"name"`
	Kind       ValueKind `json:"kind" yaml:"kind"`
	Choices    []Choice  `json:"choices,omitempty" yaml:"choices,omitempty"`
	Deleted    bool      `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// RelationType links subjects to objects ("employed by").
// Empty type lists mean any tracked type.
type RelationType struct {
	Key          string   `json:"key" yaml:"key"`
	Predicate    string   `json:"predicate" yaml:"predicate"`
	SubjectTypes []string `json:"subjectTypes,omitempty" yaml:"subject_types,omitempty"`
	ObjectTypes  []string `json:"objectTypes,omitempty" yaml:"object_types,omitempty"`
}

// RelatedLink is a reverse one-to-many link: entities of EntityType whose
// ForeignKey attribute points back at the owner. Only declared links are allowed.
type RelatedLink struct {
	Key         string `json:"key" yaml:"key"`
	DisplayName string `json:"displayName" yaml:"display_name"`
	EntityType  string `json:"entityType" yaml:"entity_type"`
	ForeignKey  string `json:"foreignKey" yaml:"foreign_key"`
}

// Built-in attributes every entity carries.
var builtinAttributes = []Attribute{
	{Key: "id", DisplayName: "ID", Kind: KindText},
	{Key: "name", DisplayName: "Name", Kind: KindText},
	{Key: "owner", DisplayName: "Owner", Kind: KindText},
}

// ============================================================================
// LOOKUPS
// ============================================================================

// Type returns the entity type with the given key.
func (c *Config) Type(key string) (*EntityType, bool) {
	for i := range c.Types {
		if c.Types[i].Key == key {
			return &c.Types[i], true
		}
	}
	return nil, false
}

// IsTracked reports whether key names a first-class entity type.
func (c *Config) IsTracked(key string) bool {
	t, ok := c.Type(key)
	return ok && t.Tracked
}

// TrackedTypes returns the keys of all first-class entity types.
func (c *Config) TrackedTypes() []string {
	var keys []string
	for _, t := range c.Types {
		if t.Tracked {
			keys = append(keys, t.Key)
		}
	}
	return keys
}

// CustomField returns a custom field declared on entityType.
func (c *Config) CustomField(entityType, id string) (*CustomField, bool) {
	for i := range c.CustomFields {
		cf := &c.CustomFields[i]
		if cf.ID == id && cf.EntityType == entityType {
			return cf, true
		}
	}
	return nil, false
}

// CustomFieldsOf returns the live custom fields of an entity type.
func (c *Config) CustomFieldsOf(entityType string) []CustomField {
	var out []CustomField
	for _, cf := range c.CustomFields {
		if cf.EntityType == entityType && !cf.Deleted {
			out = append(out, cf)
		}
	}
	return out
}

// RelationType returns the relation type with the given key.
func (c *Config) RelationType(key string) (*RelationType, bool) {
	for i := range c.RelationTypes {
		if c.RelationTypes[i].Key == key {
			return &c.RelationTypes[i], true
		}
	}
	return nil, false
}

// AllowsSubject reports whether entityType may be the subject of the relation.
func (r *RelationType) AllowsSubject(entityType string) bool {
	return len(r.SubjectTypes) == 0 || contains(r.SubjectTypes, entityType)
}

// Attribute returns a declared or built-in attribute.
func (t *EntityType) Attribute(key string) (*Attribute, bool) {
	for i := range t.Attributes {
		if t.Attributes[i].Key == key {
			return &t.Attributes[i], true
		}
	}
	for i := range builtinAttributes {
		if builtinAttributes[i].Key == key {
			a := builtinAttributes[i]
			return &a, true
		}
	}
	return nil, false
}

// RelatedLink returns an allow-listed reverse link.
func (t *EntityType) RelatedLink(key string) (*RelatedLink, bool) {
	for i := range t.Related {
		if t.Related[i].Key == key {
			return &t.Related[i], true
		}
	}
	return nil, false
}

// ResolvePath walks an attribute path from entityType. A path has at most two
// hops and only a single-valued or multi-valued reference can be followed;
// a second hop that is itself a reference is rejected as too deep.
func (c *Config) ResolvePath(entityType, path string) ([]Attribute, error) {
	t, ok := c.Type(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, entityType)
	}

	hops := strings.Split(path, PathSeparator)
	if len(hops) > 2 {
		return nil, fmt.Errorf("%w: %s", ErrPathTooDeep, path)
	}

	first, ok := t.Attribute(hops[0])
	if !ok || hops[0] == "" {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, entityType, path)
	}
	if len(hops) == 1 {
		return []Attribute{*first}, nil
	}

	if !first.Kind.Reference() {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, entityType, path)
	}
	target, ok := c.Type(first.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, first.Target)
	}
	second, ok := target.Attribute(hops[1])
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, first.Target, hops[1])
	}
	if second.Kind.Reference() {
		return nil, fmt.Errorf("%w: %s", ErrPathTooDeep, path)
	}
	return []Attribute{*first, *second}, nil
}

// ============================================================================
// LABELS
// ============================================================================

// Label returns the display name, derived from the key when none is declared.
func (a Attribute) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return LabelForKey(a.Key)
}

// ChoiceLabel returns the label of a declared choice, or the raw value.
func (a Attribute) ChoiceLabel(value string) string {
	return choiceLabel(a.Choices, value)
}

// ChoiceLabel returns the label of a declared choice, or the raw value.
func (cf CustomField) ChoiceLabel(value string) string {
	return choiceLabel(cf.Choices, value)
}

// Label returns the display name of the entity type.
func (t EntityType) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return LabelForKey(t.Key)
}

// LabelForKey turns "annual_revenue" into "Annual Revenue".
func LabelForKey(key string) string {
	if key == "" {
		return ""
	}
	// Casers are stateful; build one per call.
	return cases.Title(language.English, cases.Compact).String(strings.ReplaceAll(key, "_", " "))
}

func choiceLabel(choices []Choice, value string) string {
	for _, c := range choices {
		if c.Value == value {
			if c.Label != "" {
				return c.Label
			}
			return c.Value
		}
	}
	return value
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
