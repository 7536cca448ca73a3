package engine_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
	"github.com/spektr-org/reports/store/memstore"
)

// ============================================================================
// FIXTURE — A small CRM: organisations, sectors, contacts
// ============================================================================

func crmSchema() *schema.Config {
	return &schema.Config{
		Name: "crm",
		Types: []schema.EntityType{
			{
				Key: "org", DisplayName: "Organisation", Tracked: true,
				Attributes: []schema.Attribute{
					{Key: "capital", Kind: schema.KindInteger},
					{Key: "sector", DisplayName: "Sector", Kind: schema.KindReference, Target: "sector"},
					{Key: "status", Kind: schema.KindChoice, Choices: []schema.Choice{
						{Value: "active", Label: "Active"},
						{Value: "closed", Label: "Closed"},
					}},
					{Key: "founded", Kind: schema.KindDate},
					{Key: "partners", Kind: schema.KindMultiReference, Target: "org"},
				},
				Related: []schema.RelatedLink{
					{Key: "contacts", DisplayName: "Contacts", EntityType: "contact", ForeignKey: "employer"},
				},
			},
			{Key: "sector", Attributes: []schema.Attribute{{Key: "title", Kind: schema.KindText}}},
			{
				Key: "contact", Tracked: true,
				Attributes: []schema.Attribute{
					{Key: "employer", Kind: schema.KindReference, Target: "org"},
					{Key: "email", Kind: schema.KindText},
				},
			},
		},
		CustomFields: []schema.CustomField{
			{ID: "12", EntityType: "org", Name: "Budget", Kind: schema.KindDecimal},
			{ID: "13", EntityType: "org", Name: "Tier", Kind: schema.KindChoice, Choices: []schema.Choice{
				{Value: "gold", Label: "Gold"},
				{Value: "silver", Label: "Silver"},
			}},
			{ID: "14", EntityType: "org", Name: "Legacy", Kind: schema.KindText, Deleted: true},
		},
		RelationTypes: []schema.RelationType{
			{Key: "employed_by", Predicate: "employed by", SubjectTypes: []string{"contact"}, ObjectTypes: []string{"org"}},
			{Key: "partner_of", Predicate: "partner of"},
		},
	}
}

type org struct {
	ID       string
	Name     string
	Capital  *int64
	Sector   string
	Status   string
	Founded  time.Time
	Partners []string
	Budget   string
	Tier     string
}

func capital(n int64) *int64 { return &n }

func day(s string) time.Time {
	t, err := time.Parse(schema.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

var orgAdapter = memstore.NewAdapter("org", func(o org) string { return o.ID }).
	Name(func(o org) string { return o.Name }).
	Field("capital", func(o org) any {
		if o.Capital == nil {
			return nil
		}
		return *o.Capital
	}).
	Field("sector", func(o org) any { return o.Sector }).
	Field("status", func(o org) any { return o.Status }).
	Field("founded", func(o org) any { return o.Founded }).
	Field("partners", func(o org) any {
		if len(o.Partners) == 0 {
			return nil
		}
		return o.Partners
	}).
	Custom("12", func(o org) any {
		if o.Budget == "" {
			return nil
		}
		return decimal.RequireFromString(o.Budget)
	}).
	Custom("13", func(o org) any {
		if o.Tier == "" {
			return nil
		}
		return o.Tier
	})

type fixture struct {
	store    *memstore.Store
	reports  engine.ReportStore
	env      *engine.Env
	registry *engine.Registry
	logger   *slog.Logger

	orgs     []*engine.Entity
	contacts []*engine.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New(crmSchema())
	store.Add(
		&engine.Entity{ID: "s1", Type: "sector", Name: "Tech", Fields: map[string]any{"title": "Technology"}},
		&engine.Entity{ID: "s2", Type: "sector", Name: "Retail", Fields: map[string]any{"title": "Retail trade"}},
	)
	orgs := orgAdapter.Bind(store, []org{
		{ID: "o1", Name: "Acme", Capital: capital(100), Sector: "s1", Status: "active",
			Founded: day("2024-01-05"), Partners: []string{"o2", "o3"}, Budget: "10.5", Tier: "gold"},
		{ID: "o2", Name: "Beta", Capital: capital(1000), Sector: "s1", Status: "active",
			Founded: day("2024-01-20"), Budget: "20", Tier: "silver"},
		{ID: "o3", Name: "Gamma", Sector: "s1", Status: "closed", Founded: day("2024-03-02")},
	})
	contacts := []*engine.Entity{
		{ID: "c1", Type: "contact", Name: "Alice", Fields: map[string]any{"employer": "o1", "email": "alice@acme.test"}},
		{ID: "c2", Type: "contact", Name: "Bob", Fields: map[string]any{"employer": "o1", "email": "bob@acme.test"}},
		{ID: "c3", Type: "contact", Name: "Carol", Fields: map[string]any{"employer": "o2", "email": "carol@beta.test"}},
	}
	store.Add(contacts...)

	store.Relate("partner_of", orgs[0], orgs[1])
	store.Relate("partner_of", orgs[1], orgs[2])
	store.Relate("employed_by", contacts[0], orgs[0])
	store.Relate("employed_by", contacts[1], orgs[0])
	store.Relate("employed_by", contacts[2], orgs[1])

	return &fixture{
		store:   store,
		reports: store,
		env: &engine.Env{
			Schema:  crmSchema(),
			Store:   store,
			Filters: store,
			Locale:  language.English,
		},
		registry: engine.NewDefaultRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		orgs:     orgs,
		contacts: contacts,
	}
}

func (f *fixture) fetcher() *engine.Fetcher {
	return engine.NewFetcher(f.env, f.registry, f.reports, engine.WithLogger(f.logger))
}

func (f *fixture) charter() *engine.Charter {
	return engine.NewCharter(f.env, f.store, engine.WithLogger(f.logger), engine.WithWorkers(2))
}

func (f *fixture) linker() *engine.Linker {
	return engine.NewLinker(f.env, f.registry, f.store, engine.WithLogger(f.logger))
}

// saveReport stores a report; columns get ids "col<n>" and their slice
// position as order unless set.
func (f *fixture) saveReport(t *testing.T, id, entityType string, cols ...engine.ColumnSpec) *engine.Report {
	t.Helper()
	r := newReport(id, entityType, cols)
	require.NoError(t, f.store.SaveReport(context.Background(), r))
	return r
}

// writeReport stores a report as is, skipping the checks of SaveReport,
// like a row written by hand into the database.
func (f *fixture) writeReport(id, entityType string, cols ...engine.ColumnSpec) {
	raw, ok := f.reports.(*rawReports)
	if !ok {
		raw = &rawReports{ReportStore: f.store, raw: make(map[string]*engine.Report)}
		f.reports = raw
	}
	raw.raw[id] = newReport(id, entityType, cols)
}

func newReport(id, entityType string, cols []engine.ColumnSpec) *engine.Report {
	for i := range cols {
		if cols[i].ID == "" {
			cols[i].ID = "col" + strconv.Itoa(i+1)
		}
		if cols[i].Order == 0 {
			cols[i].Order = i + 1
		}
		cols[i].ReportID = id
	}
	return &engine.Report{ID: id, Name: id, EntityType: entityType, Columns: cols}
}

func (f *fixture) fetch(t *testing.T, reportID string, opts engine.FetchOptions) *engine.TableData {
	t.Helper()
	table, err := f.fetcher().Fetch(context.Background(), reportID, nil, opts)
	require.NoError(t, err)
	return table
}

func col(kind engine.ColumnKind, value string) engine.ColumnSpec {
	return engine.ColumnSpec{Kind: kind, Value: value}
}

func sub(kind engine.ColumnKind, value, subReportID string, selected bool) engine.ColumnSpec {
	return engine.ColumnSpec{Kind: kind, Value: value, SubReportID: subReportID, Selected: selected}
}

func ref(kind engine.ColumnKind, value string) engine.ColumnRef {
	return engine.ColumnRef{Kind: kind, Value: value}
}

// ============================================================================
// TEST COLLABORATORS
// ============================================================================

// rawReports serves written reports ahead of the store behind it.
type rawReports struct {
	engine.ReportStore
	raw map[string]*engine.Report
}

func (r *rawReports) Report(ctx context.Context, id string) (*engine.Report, error) {
	if rep, ok := r.raw[id]; ok {
		return rep.Clone(), nil
	}
	return r.ReportStore.Report(ctx, id)
}

// denyIDs hides the listed entities from everyone but superusers.
type denyIDs map[string]bool

func (d denyIDs) CanView(user *engine.User, e *engine.Entity) bool {
	return (user != nil && user.Superuser) || !d[e.ID]
}

// hideFields hides "<type>.<field>" pairs.
type hideFields map[string]bool

func (h hideFields) IsHidden(entityType, field string) bool {
	return h[entityType+"."+field]
}

// funcs serves computed fields regardless of entity type.
type funcs map[string]engine.Function

func (fs funcs) Function(_, name string) (engine.Function, bool) {
	fn, ok := fs[name]
	return fn, ok
}

// countingStore counts aggregate queries.
type countingStore struct {
	*memstore.Store
	aggregates atomic.Int32
}

func (s *countingStore) Aggregate(ctx context.Context, scope engine.Scope, r engine.ColumnRef, aggregation string) (decimal.Decimal, error) {
	s.aggregates.Add(1)
	return s.Store.Aggregate(ctx, scope, r, aggregation)
}
