// Package memstore is an in-memory store adapter. It keeps entities in
// insertion order, evaluates conditions in a single pass per entity and
// hands out index views over its data instead of copies.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

var (
	_ engine.Store       = (*Store)(nil)
	_ engine.ReportStore = (*Store)(nil)
	_ engine.Filters     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithCredentials restricts fetches and aggregates to entities the scope
// user may view. Default: every entity is visible.
func WithCredentials(c engine.Credentials) Option {
	return func(s *Store) { s.creds = c }
}

type relation struct {
	rtype   string
	subject *engine.Entity
	object  *engine.Entity
}

// Store holds entities, relations, reports, charts and filters.
type Store struct {
	mu     sync.RWMutex
	schema *schema.Config
	creds  engine.Credentials

	entities []*engine.Entity                     // insertion order
	byType   map[string][]int                     // type → positions in entities
	byID     map[string]map[string]*engine.Entity // type → id → entity
	seq      map[*engine.Entity]int
	rels     []relation

	reports map[string]*engine.Report
	charts  map[string]*engine.ChartSpec
	filters map[string]*engine.Filter
}

// New returns an empty store for cfg.
func New(cfg *schema.Config, opts ...Option) *Store {
	s := &Store{
		schema:  cfg,
		byType:  make(map[string][]int),
		byID:    make(map[string]map[string]*engine.Entity),
		seq:     make(map[*engine.Entity]int),
		reports: make(map[string]*engine.Report),
		charts:  make(map[string]*engine.ChartSpec),
		filters: make(map[string]*engine.Filter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores entities. An entity with an existing type and id replaces the
// stored one in place.
func (s *Store) Add(entities ...*engine.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entities {
		ids := s.byID[e.Type]
		if ids == nil {
			ids = make(map[string]*engine.Entity)
			s.byID[e.Type] = ids
		}
		if old, ok := ids[e.ID]; ok {
			// Open views still read the previous array.
			pos := s.seq[old]
			s.entities = slices.Clone(s.entities)
			s.entities[pos] = e
			delete(s.seq, old)
			s.seq[e] = pos
			ids[e.ID] = e
			continue
		}
		pos := len(s.entities)
		s.entities = append(s.entities, e)
		s.byType[e.Type] = append(s.byType[e.Type], pos)
		s.seq[e] = pos
		ids[e.ID] = e
	}
}

// Relate links subject to object through a relation type.
func (s *Store) Relate(relationType string, subject, object *engine.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, relation{rtype: relationType, subject: subject, object: object})
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// ============================================================================
// ENTITY SOURCE
// ============================================================================

// Fetch returns a view over the entities of scope.
func (s *Store) Fetch(ctx context.Context, scope engine.Scope) (engine.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &view{parent: s.entities, indices: s.match(scope)}, nil
}

// Get returns one entity.
func (s *Store) Get(_ context.Context, entityType, id string) (*engine.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byID[entityType][id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%s %s: %w", entityType, id, engine.ErrNotFound)
}

// Relations returns the objects of e through relationType, in link order.
func (s *Store) Relations(_ context.Context, e *engine.Entity, relationType string) ([]*engine.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objectsOf(e, relationType), nil
}

func (s *Store) objectsOf(e *engine.Entity, relationType string) []*engine.Entity {
	var out []*engine.Entity
	for _, r := range s.rels {
		if r.rtype == relationType && r.subject.Type == e.Type && r.subject.ID == e.ID {
			out = append(out, r.object)
		}
	}
	return out
}

// ============================================================================
// AGGREGATE SOURCE
// ============================================================================

// Aggregate reduces the values of ref over scope.
func (s *Store) Aggregate(ctx context.Context, scope engine.Scope, ref engine.ColumnRef, aggregation string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if _, ok := engine.LookupAggregation(aggregation); !ok {
		return decimal.Zero, fmt.Errorf("unknown aggregation %q", aggregation)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []decimal.Decimal
	for _, i := range s.match(scope) {
		for _, v := range s.cellValues(s.entities[i], ref) {
			if d, ok := engine.ToDecimal(v); ok {
				values = append(values, d)
			}
		}
	}
	return engine.AggregateValues(aggregation, values), nil
}

// Count returns the number of entities in scope.
func (s *Store) Count(ctx context.Context, scope engine.Scope) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(scope)), nil
}

// DateUnits returns the distinct units of the dates of ref in scope.
func (s *Store) DateUnits(ctx context.Context, scope engine.Scope, ref engine.ColumnRef, unit engine.DateUnit, ascending bool) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, i := range s.match(scope) {
		for _, v := range s.cellValues(s.entities[i], ref) {
			t, ok := schema.AsTime(v)
			if !ok {
				continue
			}
			t = unit.Truncate(t)
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Before(out[j])
		}
		return out[i].After(out[j])
	})
	return out, nil
}

// DateBounds returns the first and last day of ref in scope.
func (s *Store) DateBounds(ctx context.Context, scope engine.Scope, ref engine.ColumnRef) (lo, hi time.Time, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return lo, hi, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.match(scope) {
		for _, v := range s.cellValues(s.entities[i], ref) {
			t, valid := schema.AsTime(v)
			if !valid {
				continue
			}
			t = engine.UnitDay.Truncate(t)
			if !ok || t.Before(lo) {
				lo = t
			}
			if !ok || t.After(hi) {
				hi = t
			}
			ok = true
		}
	}
	return lo, hi, ok, nil
}

// RelatedObjects returns the objects related through relationType to at
// least one entity of scope, in store order.
func (s *Store) RelatedObjects(ctx context.Context, scope engine.Scope, relationType string) ([]*engine.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make(map[*engine.Entity]bool)
	for _, i := range s.match(scope) {
		subjects[s.entities[i]] = true
	}

	seen := make(map[*engine.Entity]bool)
	var out []*engine.Entity
	for _, r := range s.rels {
		if r.rtype != relationType || seen[r.object] {
			continue
		}
		if subj, ok := s.byID[r.subject.Type][r.subject.ID]; ok && subjects[subj] {
			seen[r.object] = true
			out = append(out, r.object)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return s.order(out[i]) < s.order(out[j]) })
	return out, nil
}

// order returns the store position of e; entities only known through a
// relation sort last.
func (s *Store) order(e *engine.Entity) int {
	if stored, ok := s.byID[e.Type][e.ID]; ok {
		return s.seq[stored]
	}
	return len(s.entities)
}

func (s *Store) visible(user *engine.User, e *engine.Entity) bool {
	return s.creds == nil || s.creds.CanView(user, e)
}
