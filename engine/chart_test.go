package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// CHART TESTS
// ============================================================================

func chartValues(res *engine.ChartResult) []string {
	out := make([]string, len(res.Series))
	for i, p := range res.Series {
		out[i] = p.Value.String()
	}
	return out
}

func count() engine.Ordinate { return engine.Ordinate{Aggregation: "count"} }

func over(aggregation string, cell engine.ColumnRef) engine.Ordinate {
	return engine.Ordinate{Aggregation: aggregation, Cell: &cell}
}

func runChart(t *testing.T, f *fixture, spec engine.ChartSpec, extra ...engine.Condition) *engine.ChartResult {
	t.Helper()
	if spec.ReportID == "" {
		spec.ReportID = "orgs"
	}
	res, err := f.charter().Run(context.Background(), spec, nil, extra...)
	require.NoError(t, err)
	return res
}

func chartFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.saveReport(t, "orgs", "org", col(engine.KindField, "name"))
	return f
}

func TestChartAggregationsPerBucket(t *testing.T) {
	f := chartFixture(t)
	bySector := engine.Abscissa{Cell: ref(engine.KindField, "sector"), Group: engine.GroupFK}
	capitalRef := ref(engine.KindField, "capital")

	tests := []struct {
		name     string
		ordinate engine.Ordinate
		yAxis    string
		want     []string
	}{
		{"sum", over("sum", capitalRef), "Sum", []string{"1100", "0"}},
		{"avg", over("avg", capitalRef), "Average", []string{"550", "0"}},
		{"min", over("min", capitalRef), "Minimum", []string{"100", "0"}},
		{"max", over("max", capitalRef), "Maximum", []string{"1000", "0"}},
		{"count", count(), "Count", []string{"3", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChart(t, f, engine.ChartSpec{Name: "by sector", Abscissa: bySector, Ordinate: tt.ordinate})
			require.False(t, res.HasError())
			assert.Equal(t, "by sector", res.Title)
			assert.Equal(t, "Sector", res.XAxis)
			assert.Equal(t, tt.yAxis, res.YAxis)
			assert.Equal(t, []string{"Tech", "Retail"}, res.Labels)
			assert.Equal(t, tt.want, chartValues(res))
		})
	}
}

func TestChartChoiceBuckets(t *testing.T) {
	f := chartFixture(t)

	res := runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindField, "status"), Group: engine.GroupChoice},
		Ordinate: count(),
	})
	assert.Equal(t, []string{"Active", "Closed"}, res.Labels)
	assert.Equal(t, []string{"2", "1"}, chartValues(res))

	// Declared order does not depend on the sort direction.
	res = runChart(t, f, engine.ChartSpec{
		Abscissa:  engine.Abscissa{Cell: ref(engine.KindField, "status"), Group: engine.GroupChoice},
		Ordinate:  over("sum", ref(engine.KindCustom, "12")),
		Ascending: true,
	})
	assert.Equal(t, []string{"Active", "Closed"}, res.Labels)
	assert.Equal(t, []string{"30.5", "0"}, chartValues(res))
}

func TestChartCustomChoiceBuckets(t *testing.T) {
	f := chartFixture(t)

	res := runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindCustom, "13"), Group: engine.GroupCustomChoice},
		Ordinate: over("sum", ref(engine.KindField, "capital")),
	})
	assert.Equal(t, "Tier", res.XAxis)
	assert.Equal(t, []string{"Gold", "Silver"}, res.Labels)
	assert.Equal(t, []string{"100", "1000"}, chartValues(res))
}

func TestChartRelationBuckets(t *testing.T) {
	f := chartFixture(t)

	res := runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindRelation, "partner_of"), Group: engine.GroupRelation},
		Ordinate: count(),
	})
	assert.Equal(t, "partner of", res.XAxis)
	assert.Equal(t, []string{"Beta", "Gamma"}, res.Labels)
	assert.Equal(t, []string{"1", "1"}, chartValues(res))

	f.env.Credentials = denyIDs{"o3": true}
	res = runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindRelation, "partner_of"), Group: engine.GroupRelation},
		Ordinate: count(),
	})
	assert.Equal(t, []string{"Beta"}, res.Labels)
}

func TestChartDateUnitBuckets(t *testing.T) {
	f := chartFixture(t)
	founded := ref(engine.KindField, "founded")

	tests := []struct {
		name      string
		group     engine.GroupKind
		ascending bool
		labels    []string
		values    []string
	}{
		{"months ascending", engine.GroupMonth, true, []string{"January 2024", "March 2024"}, []string{"2", "1"}},
		{"months descending", engine.GroupMonth, false, []string{"March 2024", "January 2024"}, []string{"1", "2"}},
		{"years", engine.GroupYear, true, []string{"2024"}, []string{"3"}},
		{"days", engine.GroupDay, true, []string{"01/05/2024", "01/20/2024", "03/02/2024"}, []string{"1", "1", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChart(t, f, engine.ChartSpec{
				Abscissa:  engine.Abscissa{Cell: founded, Group: tt.group},
				Ordinate:  count(),
				Ascending: tt.ascending,
			})
			require.False(t, res.HasError())
			assert.Equal(t, tt.labels, res.Labels)
			assert.Equal(t, tt.values, chartValues(res))
		})
	}
}

func TestChartRangeBuckets(t *testing.T) {
	f := chartFixture(t)
	abscissa := engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupRange, Parameter: "30"}

	// 2024-01-05 .. 2024-03-02 is 58 days: two windows, the last one 28 days.
	asc := runChart(t, f, engine.ChartSpec{Abscissa: abscissa, Ordinate: count(), Ascending: true})
	assert.Equal(t, []string{"01/05/2024 - 02/03/2024", "02/04/2024 - 03/02/2024"}, asc.Labels)
	assert.Equal(t, []string{"2", "1"}, chartValues(asc))

	desc := runChart(t, f, engine.ChartSpec{Abscissa: abscissa, Ordinate: count()})
	assert.Equal(t, []string{"02/02/2024 - 03/02/2024", "01/05/2024 - 02/01/2024"}, desc.Labels)
	assert.Equal(t, []string{"1", "2"}, chartValues(desc))
}

func TestChartLocalizedLabels(t *testing.T) {
	f := chartFixture(t)
	f.env.Locale = language.French

	res := runChart(t, f, engine.ChartSpec{
		Abscissa:  engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupMonth},
		Ordinate:  count(),
		Ascending: true,
	})
	assert.Equal(t, []string{"janvier 2024", "mars 2024"}, res.Labels)
}

func TestChartExtraConditions(t *testing.T) {
	f := chartFixture(t)
	active := engine.Condition{Cell: ref(engine.KindField, "status"), Op: engine.OpEqual, Values: []string{"active"}}

	res := runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindField, "sector"), Group: engine.GroupFK},
		Ordinate: count(),
	}, active)
	assert.Equal(t, []string{"Tech", "Retail"}, res.Labels)
	assert.Equal(t, []string{"2", "0"}, chartValues(res))

	loc, err := engine.ParseLocator(res.Series[0].Locator)
	require.NoError(t, err)
	assert.Equal(t, "org", loc.EntityType)
	require.Len(t, loc.Conditions, 2)
	assert.Equal(t, active, loc.Conditions[0])
}

func TestChartLocatorDrillDown(t *testing.T) {
	f := chartFixture(t)
	res := runChart(t, f, engine.ChartSpec{
		Abscissa: engine.Abscissa{Cell: ref(engine.KindField, "status"), Group: engine.GroupChoice},
		Ordinate: count(),
	})
	require.Len(t, res.Series, 2)

	for i, want := range [][]string{{"o1", "o2"}, {"o3"}} {
		cur, err := engine.Locate(context.Background(), f.env, res.Series[i].Locator, nil)
		require.NoError(t, err)
		var got []string
		for cur.Next(context.Background()) {
			got = append(got, cur.Entity().ID)
		}
		require.NoError(t, cur.Err())
		require.NoError(t, cur.Close())
		assert.Equal(t, want, got)
	}
}

func TestChartAxisErrors(t *testing.T) {
	f := chartFixture(t)
	founded := engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupMonth}

	tests := []struct {
		name        string
		abscissa    engine.Abscissa
		ordinate    engine.Ordinate
		abscissaErr string
		ordinateErr string
	}{
		{
			name:        "date group on a number",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindField, "capital"), Group: engine.GroupDay},
			ordinate:    count(),
			abscissaErr: "the group kind is not compatible with the field",
		},
		{
			name:        "custom group on a field",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupCustomDay},
			ordinate:    count(),
			abscissaErr: "the group kind is not compatible with the field",
		},
		{
			name:        "unknown group",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupKind(99)},
			ordinate:    count(),
			abscissaErr: "the group kind is invalid",
		},
		{
			name:        "bad range parameter",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupRange, Parameter: "abc"},
			ordinate:    count(),
			abscissaErr: "the parameter is invalid: a positive number of days is expected",
		},
		{
			name:        "deleted custom field",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindCustom, "14"), Group: engine.GroupCustomChoice},
			ordinate:    count(),
			abscissaErr: "the custom field is invalid",
		},
		{
			name:        "sum over text",
			abscissa:    founded,
			ordinate:    over("sum", ref(engine.KindField, "name")),
			ordinateErr: "the field is not aggregatable",
		},
		{
			name:        "unknown aggregation",
			abscissa:    founded,
			ordinate:    engine.Ordinate{Aggregation: "median"},
			ordinateErr: "the aggregation is invalid",
		},
		{
			name:        "sum without field",
			abscissa:    founded,
			ordinate:    engine.Ordinate{Aggregation: "sum"},
			ordinateErr: "the aggregation needs a field",
		},
		{
			name:        "both axes",
			abscissa:    engine.Abscissa{Cell: ref(engine.KindField, "nope"), Group: engine.GroupDay},
			ordinate:    over("avg", ref(engine.KindCustom, "13")),
			abscissaErr: "the field is invalid",
			ordinateErr: "the custom field is not aggregatable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runChart(t, f, engine.ChartSpec{Abscissa: tt.abscissa, Ordinate: tt.ordinate})
			assert.True(t, res.HasError())
			assert.Equal(t, tt.abscissaErr, res.AbscissaError)
			assert.Equal(t, tt.ordinateErr, res.OrdinateError)
			assert.NotNil(t, res.Labels)
			assert.Empty(t, res.Labels)
			assert.Empty(t, res.Series)
		})
	}
}

func TestChartHiddenFieldKeepsWorking(t *testing.T) {
	f := chartFixture(t)
	f.env.Visibility = hideFields{"org.founded": true}
	abscissa := engine.Abscissa{Cell: ref(engine.KindField, "founded"), Group: engine.GroupYear}

	_, aerr := f.charter().Constraints().Abscissa(f.env, "org", abscissa, true)
	require.NotNil(t, aerr)
	assert.Equal(t, "the field is hidden", aerr.Message)

	res := runChart(t, f, engine.ChartSpec{Abscissa: abscissa, Ordinate: count()})
	assert.False(t, res.HasError())
	assert.Equal(t, []string{"3"}, chartValues(res))
}

func TestConstraintsGroups(t *testing.T) {
	f := chartFixture(t)
	c := engine.NewConstraints()

	assert.Equal(t,
		[]engine.GroupKind{engine.GroupDay, engine.GroupMonth, engine.GroupYear, engine.GroupRange},
		c.Groups(f.env, "org", ref(engine.KindField, "founded")))
	assert.Equal(t, []engine.GroupKind{engine.GroupFK}, c.Groups(f.env, "org", ref(engine.KindField, "sector")))
	assert.Equal(t, []engine.GroupKind{engine.GroupChoice}, c.Groups(f.env, "org", ref(engine.KindField, "status")))
	assert.Equal(t, []engine.GroupKind{engine.GroupCustomChoice}, c.Groups(f.env, "org", ref(engine.KindCustom, "13")))
	assert.Empty(t, c.Groups(f.env, "org", ref(engine.KindField, "capital")))
}

func TestChartFetchStored(t *testing.T) {
	f := chartFixture(t)
	ctx := context.Background()

	spec := &engine.ChartSpec{
		Name:     "orgs per status",
		ReportID: "orgs",
		Abscissa: engine.Abscissa{Cell: ref(engine.KindField, "status"), Group: engine.GroupChoice},
		Ordinate: count(),
	}
	require.NoError(t, f.store.SaveChart(ctx, spec))
	require.NotEmpty(t, spec.ID)

	res, err := f.charter().Fetch(ctx, spec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "orgs per status", res.Title)
	assert.Equal(t, []string{"2", "1"}, chartValues(res))

	_, err = f.charter().Fetch(ctx, "nope", nil)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
