package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gohugoio/hashstructure"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// COLLABORATORS — What the engine needs from the outside world
// ============================================================================
// The engine never queries storage directly. Stores, credentials, field
// visibility, computed fields and saved filters are reached through the
// narrow interfaces below and bundled into an Env.
//
// Implementations:
//   store/memstore  — in-memory Store, ReportStore and Filters
//   store/sqlstore  — SQLite Store, ReportStore and Filters
//   access          — Credentials and FieldVisibility
//   functions       — FunctionFields
// ============================================================================

// Scope is the filtered entity collection a fetch, an aggregate or a chart
// bucket works on. Stores return only entities of EntityType matching every
// condition of Filter and Extra that User may view.
type Scope struct {
	EntityType string
	User       *User
	Filter     *Filter
	Extra      []Condition
}

// With returns a copy of the scope narrowed by conds.
func (s Scope) With(conds ...Condition) Scope {
	extra := make([]Condition, 0, len(s.Extra)+len(conds))
	extra = append(extra, s.Extra...)
	s.Extra = append(extra, conds...)
	return s
}

// Conditions returns the saved filter conditions followed by the extra ones.
func (s Scope) Conditions() []Condition {
	var conds []Condition
	if s.Filter != nil {
		conds = append(conds, s.Filter.Conditions...)
	}
	return append(conds, s.Extra...)
}

// Key identifies the scope for caching. Equal scopes have equal keys.
func (s Scope) Key() uint64 {
	key := struct {
		EntityType string
		UserID     string
		Conditions []Condition
	}{EntityType: s.EntityType, Conditions: s.Conditions()}
	if s.User != nil {
		key.UserID = s.User.ID
	}
	h, err := hashstructure.Hash(key, nil)
	if err != nil {
		// Conditions only hold strings and ints.
		panic(fmt.Sprintf("hash scope: %v", err))
	}
	return h
}

// Cursor iterates entities. Callers stop early by not calling Next again;
// Close releases the cursor either way.
type Cursor interface {
	Next(ctx context.Context) bool
	Entity() *Entity
	Err() error
	Close() error
}

// EntitySource reads entities.
type EntitySource interface {
	// Fetch returns the entities of scope in the store's natural order.
	Fetch(ctx context.Context, scope Scope) (Cursor, error)
	// Get returns one entity or ErrNotFound. No credential check.
	Get(ctx context.Context, entityType, id string) (*Entity, error)
	// Relations returns the objects related to e through relationType.
	Relations(ctx context.Context, e *Entity, relationType string) ([]*Entity, error)
}

// AggregateSource computes over a scope.
type AggregateSource interface {
	// Aggregate applies aggregation to the values of ref (a field or custom
	// field) in scope. Missing values are skipped; no values gives zero.
	Aggregate(ctx context.Context, scope Scope, ref ColumnRef, aggregation string) (decimal.Decimal, error)
	Count(ctx context.Context, scope Scope) (int, error)
	// DateUnits returns the distinct truncated dates of ref present in scope.
	DateUnits(ctx context.Context, scope Scope, ref ColumnRef, unit DateUnit, ascending bool) ([]time.Time, error)
	// DateBounds returns the first and last day of ref in scope; ok is false
	// when no entity has a value.
	DateBounds(ctx context.Context, scope Scope, ref ColumnRef) (lo, hi time.Time, ok bool, err error)
	// RelatedObjects returns, in store order, the objects related through
	// relationType to at least one entity of scope.
	RelatedObjects(ctx context.Context, scope Scope, relationType string) ([]*Entity, error)
}

// Store is a full store adapter.
type Store interface {
	EntitySource
	AggregateSource
}

// Credentials decides single-entity view permission.
type Credentials interface {
	CanView(user *User, e *Entity) bool
}

// FieldVisibility hides attributes from reports. field is an attribute key or
// "custom:<id>".
type FieldVisibility interface {
	IsHidden(entityType, field string) bool
}

// Function is a computed field.
type Function struct {
	Name  string
	Label string
	Eval  func(ctx context.Context, e *Entity, user *User) (string, error)
}

// FunctionFields provides computed fields by name.
type FunctionFields interface {
	Function(entityType, name string) (Function, bool)
}

// Filters loads saved filters.
type Filters interface {
	Filter(ctx context.Context, id string) (*Filter, error)
}

// ReportStore persists reports and charts.
type ReportStore interface {
	Report(ctx context.Context, id string) (*Report, error)
	SaveReport(ctx context.Context, r *Report) error
	DeleteColumn(ctx context.Context, reportID, columnID string) error
	Chart(ctx context.Context, id string) (*ChartSpec, error)
	SaveChart(ctx context.Context, c *ChartSpec) error
}

// ============================================================================
// ENV — Collaborators bundled for hands and builders
// ============================================================================

// Env is shared, read-only state for one deployment. Credentials, Visibility,
// Functions and Filters are optional.
type Env struct {
	Schema      *schema.Config
	Store       Store
	Credentials Credentials
	Visibility  FieldVisibility
	Functions   FunctionFields
	Filters     Filters
	Locale      language.Tag
}

func (env *Env) canView(user *User, e *Entity) bool {
	if env.Credentials == nil {
		return true
	}
	return env.Credentials.CanView(user, e)
}

func (env *Env) hidden(entityType, field string) bool {
	if env.Visibility == nil {
		return false
	}
	return env.Visibility.IsHidden(entityType, field)
}

// scopeFor builds the scope of an entity type narrowed by a saved filter.
// A filter that no longer exists is ignored.
func (env *Env) scopeFor(ctx context.Context, entityType, filterID string, user *User, extra []Condition) (Scope, error) {
	scope := Scope{EntityType: entityType, User: user, Extra: extra}
	if filterID == "" || env.Filters == nil {
		return scope, nil
	}
	f, err := env.Filters.Filter(ctx, filterID)
	switch {
	case errors.Is(err, ErrNotFound):
		return scope, nil
	case err != nil:
		return Scope{}, fmt.Errorf("load filter %s: %w", filterID, err)
	}
	scope.Filter = f
	return scope, nil
}
