package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spektr-org/reports/config"
	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/functions"
	"github.com/spektr-org/reports/helpers"
	"github.com/spektr-org/reports/store/memstore"
	"github.com/spektr-org/reports/store/sqlstore"
)

// ============================================================================
// APP — Store, engine and seeded configuration for one run
// ============================================================================

// storage hides the write-side differences between store adapters.
type storage struct {
	store      engine.Store
	reports    engine.ReportStore
	filters    engine.Filters
	add        func(ctx context.Context, entities []*engine.Entity) error
	relate     func(ctx context.Context, relationType string, subject, object *engine.Entity) error
	saveFilter func(ctx context.Context, f *engine.Filter) error
	close      func() error
}

func openStorage(ctx context.Context, cfg *config.Config, creds engine.Credentials) (*storage, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlstore.Open(ctx, cfg.Store.DSN, &cfg.Schema, sqlstore.WithCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &storage{
			store:      s,
			reports:    s,
			filters:    s,
			add:        func(ctx context.Context, es []*engine.Entity) error { return s.Add(ctx, es...) },
			relate:     s.Relate,
			saveFilter: s.SaveFilter,
			close:      s.Close,
		}, nil
	default:
		s := memstore.New(&cfg.Schema, memstore.WithCredentials(creds))
		return &storage{
			store:   s,
			reports: s,
			filters: s,
			add: func(_ context.Context, es []*engine.Entity) error {
				s.Add(es...)
				return nil
			},
			relate: func(_ context.Context, rt string, subject, object *engine.Entity) error {
				s.Relate(rt, subject, object)
				return nil
			},
			saveFilter: func(_ context.Context, f *engine.Filter) error { return s.SaveFilter(f) },
			close:      func() error { return nil },
		}, nil
	}
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	storage *storage
	env     *engine.Env
	fetcher *engine.Fetcher
	charter *engine.Charter
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	// Types only declared by a data file are discovered before any store
	// sees the schema.
	files := make([][]byte, len(cfg.Data))
	for i, d := range cfg.Data {
		data, err := os.ReadFile(cfg.DataPath(d))
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		if _, err := helpers.EnsureType(&cfg.Schema, d.Type, data); err != nil {
			return nil, err
		}
		files[i] = data
	}

	var creds engine.Credentials
	if cfg.Access.Ownership != nil {
		creds = cfg.Access.Ownership
	}

	st, err := openStorage(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, storage: st}
	a.env = &engine.Env{
		Schema:      &cfg.Schema,
		Store:       st.store,
		Credentials: creds,
		Visibility:  cfg.Access.Hidden,
		Functions:   functions.New(),
		Filters:     st.filters,
		Locale:      cfg.LocaleTag(),
	}

	if err := a.seed(ctx, files); err != nil {
		st.close()
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(log), engine.WithWorkers(cfg.Workers)}
	a.fetcher = engine.NewFetcher(a.env, engine.NewDefaultRegistry(), st.reports, opts...)
	a.charter = engine.NewCharter(a.env, st.reports, opts...)
	return a, nil
}

// seed loads entities, relations, filters, reports and charts from the
// configuration into the store.
func (a *app) seed(ctx context.Context, files [][]byte) error {
	for i, d := range a.cfg.Data {
		entities, err := helpers.LoadCSV(files[i], &a.cfg.Schema, d.Type)
		if err != nil {
			return fmt.Errorf("load %s: %w", a.cfg.DataPath(d), err)
		}
		if err := a.storage.add(ctx, entities); err != nil {
			return fmt.Errorf("store %s entities: %w", d.Type, err)
		}
		a.log.Info("entities loaded", "type", d.Type, "count", len(entities))
	}

	for _, r := range a.cfg.Relations {
		subject, err := a.lookup(ctx, r.Subject)
		if err != nil {
			return fmt.Errorf("relation %s: %w", r.Type, err)
		}
		object, err := a.lookup(ctx, r.Object)
		if err != nil {
			return fmt.Errorf("relation %s: %w", r.Type, err)
		}
		if err := a.storage.relate(ctx, r.Type, subject, object); err != nil {
			return fmt.Errorf("relation %s: %w", r.Type, err)
		}
	}

	for i := range a.cfg.Filters {
		if err := a.storage.saveFilter(ctx, &a.cfg.Filters[i]); err != nil {
			return fmt.Errorf("save filter: %w", err)
		}
	}
	for i := range a.cfg.Reports {
		if err := a.storage.reports.SaveReport(ctx, &a.cfg.Reports[i]); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}
	for i := range a.cfg.Charts {
		if err := a.storage.reports.SaveChart(ctx, &a.cfg.Charts[i]); err != nil {
			return fmt.Errorf("save chart: %w", err)
		}
	}

	a.log.Debug("configuration seeded",
		"relations", len(a.cfg.Relations),
		"filters", len(a.cfg.Filters),
		"reports", len(a.cfg.Reports),
		"charts", len(a.cfg.Charts))
	return nil
}

func (a *app) lookup(ctx context.Context, ref string) (*engine.Entity, error) {
	entityType, id, err := config.SplitRef(ref)
	if err != nil {
		return nil, err
	}
	e, err := a.storage.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return e, nil
}

// user returns the configured user to run as. No id runs unrestricted.
func (a *app) user(id string) (*engine.User, error) {
	if id == "" {
		return &engine.User{ID: "cli", Name: "Command line", Superuser: true}, nil
	}
	u, ok := a.cfg.User(id)
	if !ok {
		return nil, fmt.Errorf("unknown user %q", id)
	}
	return u, nil
}

func (a *app) Close() error {
	return a.storage.close()
}
