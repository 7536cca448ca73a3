// Package sqlstore is a SQLite store adapter. Attribute values are kept one
// row per value in canonical text form (see schema.FormatValue) so conditions
// compile to EXISTS subqueries and date operators to prefix comparisons.
// Credentials cannot be expressed in SQL and are applied to loaded entities.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

var (
	_ engine.Store       = (*Store)(nil)
	_ engine.ReportStore = (*Store)(nil)
	_ engine.Filters     = (*Store)(nil)
)

const migration = `
CREATE TABLE IF NOT EXISTS entities (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	type  TEXT NOT NULL,
	id    TEXT NOT NULL,
	name  TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	UNIQUE (type, id)
);

CREATE TABLE IF NOT EXISTS field_values (
	entity_seq INTEGER NOT NULL REFERENCES entities(seq) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	pos        INTEGER NOT NULL,
	value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_field_values_entity ON field_values(entity_seq, key);
CREATE INDEX IF NOT EXISTS idx_field_values_value ON field_values(key, value);

CREATE TABLE IF NOT EXISTS custom_values (
	entity_seq INTEGER NOT NULL REFERENCES entities(seq) ON DELETE CASCADE,
	field_id   TEXT NOT NULL,
	pos        INTEGER NOT NULL,
	value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_custom_values_entity ON custom_values(entity_seq, field_id);

CREATE TABLE IF NOT EXISTS relations (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	rtype        TEXT NOT NULL,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	object_type  TEXT NOT NULL,
	object_id    TEXT NOT NULL,
	UNIQUE (rtype, subject_type, subject_id, object_type, object_id)
);

CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	filter_id   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS report_columns (
	report_id     TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	pos           INTEGER NOT NULL,
	kind          INTEGER NOT NULL,
	value         TEXT NOT NULL,
	ord           INTEGER NOT NULL,
	selected      INTEGER NOT NULL DEFAULT 0,
	sub_report_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (report_id, id)
);

CREATE TABLE IF NOT EXISTS charts (
	id   TEXT PRIMARY KEY,
	body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS filters (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	name        TEXT NOT NULL,
	conditions  TEXT NOT NULL
);
`

// Option configures a Store.
type Option func(*Store)

// WithCredentials restricts fetches and aggregates to entities the scope
// user may view. Default: every entity is visible.
func WithCredentials(c engine.Credentials) Option {
	return func(s *Store) { s.creds = c }
}

// Store keeps entities, relations, reports, charts and filters in SQLite.
type Store struct {
	db     *sql.DB
	schema *schema.Config
	creds  engine.Credentials
}

// Open opens (creating if needed) the database at dsn and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, dsn string, cfg *schema.Config, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// Every connection to ":memory:" is a separate database; queries never
	// hold rows open across calls so one connection is enough.
	db.SetMaxOpenConns(1)

	s := New(db, cfg, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// New wraps an open database. The caller runs Migrate.
func New(db *sql.DB, cfg *schema.Config, opts ...Option) *Store {
	s := &Store{db: db, schema: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// WRITES
// ============================================================================

// Add stores entities in one transaction. An entity with an existing type
// and id replaces the stored one and keeps its position.
func (s *Store) Add(ctx context.Context, entities ...*engine.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entities {
		if err := s.put(ctx, tx, e); err != nil {
			return fmt.Errorf("add %s %s: %w", e.Type, e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) put(ctx context.Context, tx *sql.Tx, e *engine.Entity) error {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO entities (type, id, name, owner) VALUES (?, ?, ?, ?)
		ON CONFLICT (type, id) DO UPDATE SET name = excluded.name, owner = excluded.owner
		RETURNING seq`,
		e.Type, e.ID, e.Name, e.Owner,
	).Scan(&seq)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_values WHERE entity_seq = ?`, seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_values WHERE entity_seq = ?`, seq); err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(e.Fields)) {
		for pos, raw := range encode(s.attributeKind(e.Type, key), e.Fields[key]) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO field_values (entity_seq, key, pos, value) VALUES (?, ?, ?, ?)`,
				seq, key, pos, raw,
			); err != nil {
				return err
			}
		}
	}
	for _, id := range slices.Sorted(maps.Keys(e.Custom)) {
		for pos, raw := range encode(s.customKind(e.Type, id), e.Custom[id]) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO custom_values (entity_seq, field_id, pos, value) VALUES (?, ?, ?, ?)`,
				seq, id, pos, raw,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// Relate links subject to object through a relation type. Objects that are
// never added are left out of Relations and RelatedObjects. Relating the
// same pair twice is a no-op.
func (s *Store) Relate(ctx context.Context, relationType string, subject, object *engine.Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO relations (rtype, subject_type, subject_id, object_type, object_id)
		VALUES (?, ?, ?, ?, ?)`,
		relationType, subject.Type, subject.ID, object.Type, object.ID,
	)
	if err != nil {
		return fmt.Errorf("relate %s %s -> %s %s: %w", subject.Type, subject.ID, object.Type, object.ID, err)
	}
	return nil
}

// ============================================================================
// VALUE ENCODING
// ============================================================================

func (s *Store) attributeKind(entityType, key string) schema.ValueKind {
	if s.schema == nil {
		return schema.KindText
	}
	if et, ok := s.schema.Type(entityType); ok {
		if attr, ok := et.Attribute(key); ok {
			return attr.Kind
		}
	}
	return schema.KindText
}

func (s *Store) customKind(entityType, id string) schema.ValueKind {
	if s.schema == nil {
		return schema.KindText
	}
	if cf, ok := s.schema.CustomField(entityType, id); ok {
		return cf.Kind
	}
	return schema.KindText
}

// encode returns one text row per value; empty values produce none.
func encode(kind schema.ValueKind, v any) []string {
	var out []string
	if items, ok := v.([]string); ok {
		for _, item := range items {
			if item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	if raw := schema.FormatValue(kind, v); raw != "" {
		out = append(out, raw)
	}
	return out
}

// decode rebuilds the typed value of rows written by encode. Rows that no
// longer parse under the declared kind are returned as text.
func decode(kind schema.ValueKind, raws []string) any {
	if kind.Multiple() || len(raws) > 1 {
		return raws
	}
	v, err := schema.ParseValue(kind, raws[0])
	if err != nil {
		return raws[0]
	}
	return v
}
