// Package reports builds tabular reports and charts over business entities.
//
// Usage:
//
//	import "github.com/spektr-org/reports/engine"
//
//	env := &engine.Env{Schema: cfg, Store: memstore.New(cfg)}
//	fetcher := engine.NewFetcher(env, engine.NewDefaultRegistry(), reports)
//	table, err := fetcher.Fetch(ctx, "orgs", user, engine.FetchOptions{})
//
// A report is an ordered list of columns over one entity type. Columns
// resolve to hands (field, relation, function, custom, aggregate, related)
// and may expand a linked sub-report into extra rows. Charts group the
// report's entities on an abscissa and aggregate an ordinate per bucket.
//
// Entities live behind the engine.Store interface: store/memstore keeps them
// in memory and store/sqlstore in SQLite. Credentials, hidden fields and
// computed functions are supplied by the access and functions packages.
package reports
