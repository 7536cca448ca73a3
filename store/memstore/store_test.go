package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// STORE TESTS
// ============================================================================

func testSchema() *schema.Config {
	return &schema.Config{
		Types: []schema.EntityType{
			{
				Key: "task", Tracked: true,
				Attributes: []schema.Attribute{
					{Key: "points", Kind: schema.KindInteger},
					{Key: "due", Kind: schema.KindDate},
					{Key: "labels", Kind: schema.KindMultiChoice},
					{Key: "project", Kind: schema.KindReference, Target: "project"},
				},
			},
			{Key: "project", Tracked: true, Attributes: []schema.Attribute{{Key: "code", Kind: schema.KindText}}},
		},
	}
}

type task struct {
	ID, Name, Owner, Project string
	Points                   int64
	Due                      time.Time
	Labels                   []string
	Effort                   string
}

var tasks = NewAdapter("task", func(t task) string { return t.ID }).
	Name(func(t task) string { return t.Name }).
	Owner(func(t task) string { return t.Owner }).
	Field("points", func(t task) any { return t.Points }).
	Field("due", func(t task) any { return t.Due }).
	Field("labels", func(t task) any { return t.Labels }).
	Field("project", func(t task) any { return t.Project }).
	Custom("7", func(t task) any {
		if t.Effort == "" {
			return nil
		}
		return decimal.RequireFromString(t.Effort)
	})

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newTestStore(t *testing.T, opts ...Option) (*Store, []*engine.Entity) {
	t.Helper()
	s := New(testSchema(), opts...)
	s.Add(
		&engine.Entity{ID: "p1", Type: "project", Name: "Apollo", Fields: map[string]any{"code": "APL"}},
		&engine.Entity{ID: "p2", Type: "project", Name: "Gemini", Fields: map[string]any{"code": "GEM"}},
	)
	ents := tasks.Bind(s, []task{
		{ID: "t1", Name: "Write docs", Owner: "ann", Project: "p1", Points: 3, Due: date(2024, 5, 1), Labels: []string{"docs"}, Effort: "1.5"},
		{ID: "t2", Name: "Fix login", Owner: "bob", Project: "p1", Points: 5, Due: date(2024, 5, 20), Labels: []string{"bug", "urgent"}},
		{ID: "t3", Name: "Ship it", Owner: "ann", Project: "p2", Points: 8, Due: date(2024, 7, 2), Effort: "4"},
	})
	return s, ents
}

func fetchIDs(t *testing.T, s *Store, scope engine.Scope) []string {
	t.Helper()
	cur, err := s.Fetch(context.Background(), scope)
	require.NoError(t, err)
	defer cur.Close()

	var ids []string
	for cur.Next(context.Background()) {
		ids = append(ids, cur.Entity().ID)
	}
	require.NoError(t, cur.Err())
	return ids
}

func field(key string) engine.ColumnRef { return engine.ColumnRef{Kind: engine.KindField, Value: key} }

func TestFetchConditions(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name string
		cond engine.Condition
		want []string
	}{
		{"eq integer", engine.Condition{Cell: field("points"), Op: engine.OpEqual, Values: []string{"5"}}, []string{"t2"}},
		{"eq is case-insensitive", engine.Condition{Cell: field("name"), Op: engine.OpEqual, Values: []string{"SHIP IT"}}, []string{"t3"}},
		{"in", engine.Condition{Cell: field("id"), Op: engine.OpIn, Values: []string{"t3", "t1"}}, []string{"t1", "t3"}},
		{"in multi-valued", engine.Condition{Cell: field("labels"), Op: engine.OpIn, Values: []string{"urgent", "docs"}}, []string{"t1", "t2"}},
		{"isnull", engine.Condition{Cell: field("labels"), Op: engine.OpIsNull}, []string{"t3"}},
		{"notnull custom", engine.Condition{Cell: engine.ColumnRef{Kind: engine.KindCustom, Value: "7"}, Op: engine.OpNotNull}, []string{"t1", "t3"}},
		{"contains", engine.Condition{Cell: field("name"), Op: engine.OpContains, Values: []string{"i"}}, []string{"t1", "t2", "t3"}},
		{"year", engine.Condition{Cell: field("due"), Op: engine.OpYear, Values: []string{"2024"}}, []string{"t1", "t2", "t3"}},
		{"month", engine.Condition{Cell: field("due"), Op: engine.OpMonth, Values: []string{"2024-05"}}, []string{"t1", "t2"}},
		{"day", engine.Condition{Cell: field("due"), Op: engine.OpDay, Values: []string{"2024-07-02"}}, []string{"t3"}},
		{"range inclusive", engine.Condition{Cell: field("due"), Op: engine.OpRange, Values: []string{"2024-05-01", "2024-05-20"}}, []string{"t1", "t2"}},
		{"range malformed", engine.Condition{Cell: field("due"), Op: engine.OpRange, Values: []string{"2024-05-01"}}, nil},
		{"second hop", engine.Condition{Cell: field("project__code"), Op: engine.OpEqual, Values: []string{"gem"}}, []string{"t3"}},
		{"unknown operator", engine.Condition{Cell: field("name"), Op: engine.Operator("like")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fetchIDs(t, s, engine.Scope{EntityType: "task", Extra: []engine.Condition{tt.cond}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchAndAcrossConditions(t *testing.T) {
	s, _ := newTestStore(t)
	scope := engine.Scope{
		EntityType: "task",
		Filter: &engine.Filter{Conditions: []engine.Condition{
			{Cell: field("project"), Op: engine.OpEqual, Values: []string{"p1"}},
		}},
	}
	assert.Equal(t, []string{"t1", "t2"}, fetchIDs(t, s, scope))

	scope = scope.With(engine.Condition{Cell: field("owner"), Op: engine.OpEqual, Values: []string{"bob"}})
	assert.Equal(t, []string{"t2"}, fetchIDs(t, s, scope))
}

func TestFetchRelationCondition(t *testing.T) {
	s, ents := newTestStore(t)
	p2, err := s.Get(context.Background(), "project", "p2")
	require.NoError(t, err)
	s.Relate("blocks", ents[0], p2)

	cond := engine.Condition{Cell: engine.ColumnRef{Kind: engine.KindRelation, Value: "blocks"}, Op: engine.OpEqual, Values: []string{"p2"}}
	assert.Equal(t, []string{"t1"}, fetchIDs(t, s, engine.Scope{EntityType: "task", Extra: []engine.Condition{cond}}))
}

type ownerOnly struct{}

func (ownerOnly) CanView(u *engine.User, e *engine.Entity) bool {
	return e.Type != "task" || (u != nil && u.ID == e.Owner)
}

func TestCredentialsRestrictScope(t *testing.T) {
	s, _ := newTestStore(t, WithCredentials(ownerOnly{}))
	ctx := context.Background()
	ann := &engine.User{ID: "ann"}

	assert.Equal(t, []string{"t1", "t3"}, fetchIDs(t, s, engine.Scope{EntityType: "task", User: ann}))
	assert.Empty(t, fetchIDs(t, s, engine.Scope{EntityType: "task"}))

	n, err := s.Count(ctx, engine.Scope{EntityType: "task", User: ann})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, err := s.Aggregate(ctx, engine.Scope{EntityType: "task", User: ann}, field("points"), "sum")
	require.NoError(t, err)
	assert.Equal(t, "11", sum.String())

	// Get is not credential-checked.
	_, err = s.Get(ctx, "task", "t2")
	assert.NoError(t, err)
}

func TestAggregate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	all := engine.Scope{EntityType: "task"}
	effort := engine.ColumnRef{Kind: engine.KindCustom, Value: "7"}

	tests := []struct {
		ref  engine.ColumnRef
		agg  string
		want string
	}{
		{field("points"), "sum", "16"},
		{field("points"), "min", "3"},
		{field("points"), "max", "8"},
		{effort, "sum", "5.5"},
		{effort, "avg", "2.75"},
		{effort, "count", "2"},
	}
	for _, tt := range tests {
		got, err := s.Aggregate(ctx, all, tt.ref, tt.agg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "%s %s", tt.agg, tt.ref)
	}

	_, err := s.Aggregate(ctx, all, field("points"), "median")
	assert.Error(t, err)

	empty := all.With(engine.Condition{Cell: field("id"), Op: engine.OpEqual, Values: []string{"none"}})
	got, err := s.Aggregate(ctx, empty, field("points"), "avg")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestDateUnitsAndBounds(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	all := engine.Scope{EntityType: "task"}

	units, err := s.DateUnits(ctx, all, field("due"), engine.UnitMonth, true)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, 5, 1), date(2024, 7, 1)}, units)

	units, err = s.DateUnits(ctx, all, field("due"), engine.UnitMonth, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2024, 7, 1), date(2024, 5, 1)}, units)

	lo, hi, ok, err := s.DateBounds(ctx, all, field("due"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, date(2024, 5, 1), lo)
	assert.Equal(t, date(2024, 7, 2), hi)

	_, _, ok, err = s.DateBounds(ctx, engine.Scope{EntityType: "project"}, field("due"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelatedObjects(t *testing.T) {
	s, ents := newTestStore(t)
	ctx := context.Background()
	p1, _ := s.Get(ctx, "project", "p1")
	p2, _ := s.Get(ctx, "project", "p2")
	s.Relate("blocks", ents[2], p2)
	s.Relate("blocks", ents[0], p1)
	s.Relate("blocks", ents[1], p1)

	objects, err := s.RelatedObjects(ctx, engine.Scope{EntityType: "task"}, "blocks")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "p1", objects[0].ID)
	assert.Equal(t, "p2", objects[1].ID)

	onlyT3 := engine.Scope{EntityType: "task", Extra: []engine.Condition{{Cell: field("id"), Op: engine.OpEqual, Values: []string{"t3"}}}}
	objects, err = s.RelatedObjects(ctx, onlyT3, "blocks")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "p2", objects[0].ID)

	rel, err := s.Relations(ctx, ents[0], "blocks")
	require.NoError(t, err)
	assert.Equal(t, []*engine.Entity{p1}, rel)
}

func TestAddReplacesInPlace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cur, err := s.Fetch(ctx, engine.Scope{EntityType: "task"})
	require.NoError(t, err)

	s.Add(&engine.Entity{ID: "t1", Type: "task", Name: "Rewrite docs"})
	assert.Equal(t, 5, s.Len())

	// The open view still sees the entity it was created over.
	require.True(t, cur.Next(ctx))
	assert.Equal(t, "Write docs", cur.Entity().Name)

	got, err := s.Get(ctx, "task", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Rewrite docs", got.Name)
	assert.Equal(t, []string{"t1", "t2", "t3"}, fetchIDs(t, s, engine.Scope{EntityType: "task"}))
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "task", "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestFetchCanceled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	cur, err := s.Fetch(ctx, engine.Scope{EntityType: "task"})
	require.NoError(t, err)
	require.True(t, cur.Next(ctx))
	cancel()
	assert.False(t, cur.Next(ctx))
	assert.ErrorIs(t, cur.Err(), context.Canceled)

	_, err = s.Fetch(ctx, engine.Scope{EntityType: "task"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapterEntity(t *testing.T) {
	e := tasks.Entity(task{ID: "t9", Name: "Plan", Owner: "eve", Points: 2})
	assert.Equal(t, "t9", e.ID)
	assert.Equal(t, "task", e.Type)
	assert.Equal(t, "eve", e.Owner)
	assert.Equal(t, int64(2), e.Field("points"))
	assert.Nil(t, e.CustomValue("7"))
	assert.Equal(t, []string{"points", "due", "labels", "project"}, tasks.Keys())
}
