package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/reports/engine"
)

func TestReportLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &engine.Report{
		Name:       "Tasks",
		EntityType: "task",
		FilterID:   "f1",
		Columns: []engine.ColumnSpec{
			{Kind: engine.KindField, Value: "name", Order: 2},
			{Kind: engine.KindRelated, Value: "subtasks", Order: 1, Selected: true, SubReportID: "r2"},
		},
	}
	require.NoError(t, s.SaveReport(ctx, r))
	require.NotEmpty(t, r.ID)

	loaded, err := s.Report(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, loaded)

	// Saving again replaces the columns.
	r.Name = "All tasks"
	r.Columns = r.Columns[:1]
	require.NoError(t, s.SaveReport(ctx, r))
	loaded, err = s.Report(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "All tasks", loaded.Name)
	require.Len(t, loaded.Columns, 1)

	require.NoError(t, s.DeleteColumn(ctx, r.ID, r.Columns[0].ID))
	loaded, err = s.Report(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Columns)

	assert.ErrorIs(t, s.DeleteColumn(ctx, r.ID, "nope"), engine.ErrNotFound)
	_, err = s.Report(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	assert.Error(t, s.SaveReport(ctx, &engine.Report{Name: "untyped"}))
}

func TestSaveReportRejectsInvalidLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	twice := &engine.Report{
		ID: "twice", EntityType: "task",
		Columns: []engine.ColumnSpec{
			{Kind: engine.KindRelated, Value: "subtasks", Order: 1, Selected: true, SubReportID: "a"},
			{Kind: engine.KindField, Value: "parent", Order: 2, Selected: true, SubReportID: "b"},
		},
	}
	err := s.SaveReport(ctx, twice)
	assert.ErrorIs(t, err, engine.ErrSeveralSelected)
	var cfgErr *engine.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	_, err = s.Report(ctx, "twice")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	// a -> b is fine while b is not stored; b -> a closes the cycle.
	a := &engine.Report{ID: "a", EntityType: "task", Columns: []engine.ColumnSpec{
		{Kind: engine.KindRelated, Value: "subtasks", Order: 1, SubReportID: "b"},
	}}
	require.NoError(t, s.SaveReport(ctx, a))
	b := &engine.Report{ID: "b", EntityType: "task", Columns: []engine.ColumnSpec{
		{Kind: engine.KindField, Value: "parent", Order: 1, SubReportID: "a"},
	}}
	assert.ErrorIs(t, s.SaveReport(ctx, b), engine.ErrCycle)
	_, err = s.Report(ctx, "b")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	self := &engine.Report{ID: "self", EntityType: "task", Columns: []engine.ColumnSpec{
		{Kind: engine.KindField, Value: "parent", Order: 1, SubReportID: "self"},
	}}
	assert.ErrorIs(t, s.SaveReport(ctx, self), engine.ErrCycle)

	// Dropping the link from a lets b link back.
	a.Columns[0].SubReportID = ""
	require.NoError(t, s.SaveReport(ctx, a))
	require.NoError(t, s.SaveReport(ctx, b))
}

func TestChartLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cell := engine.ColumnRef{Kind: engine.KindCustom, Value: "7"}
	c := &engine.ChartSpec{
		Name:      "effort per month",
		ReportID:  "r1",
		Abscissa:  engine.Abscissa{Cell: field("due"), Group: engine.GroupRange, Parameter: "7"},
		Ordinate:  engine.Ordinate{Aggregation: "sum", Cell: &cell},
		Ascending: true,
	}
	require.NoError(t, s.SaveChart(ctx, c))
	require.NotEmpty(t, c.ID)

	loaded, err := s.Chart(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	_, err = s.Chart(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &engine.Filter{
		Name:       "big",
		EntityType: "task",
		Conditions: []engine.Condition{{Cell: field("points"), Op: engine.OpIn, Values: []string{"5", "8"}}},
	}
	require.NoError(t, s.SaveFilter(ctx, f))
	require.NotEmpty(t, f.ID)

	loaded, err := s.Filter(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f, loaded)

	scope := engine.Scope{EntityType: "task", Filter: loaded}
	assert.Equal(t, []string{"t2", "t3"}, fetchIDs(t, s, scope))

	_, err = s.Filter(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	bad := &engine.Filter{Conditions: []engine.Condition{{Cell: field("due"), Op: engine.OpRange}}}
	assert.Error(t, s.SaveFilter(ctx, bad))
}
