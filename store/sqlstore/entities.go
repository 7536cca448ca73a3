package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// ENTITY SOURCE
// ============================================================================

// pageSize is the number of entities a cursor loads per round trip.
const pageSize = 100

// Fetch returns a cursor over the entities of scope. Matching runs up front;
// entities are loaded page by page as the cursor advances.
func (s *Store) Fetch(ctx context.Context, scope engine.Scope) (engine.Cursor, error) {
	seqs, err := s.query(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &cursor{store: s, user: scope.User, seqs: seqs}, nil
}

// Get returns one entity.
func (s *Store) Get(ctx context.Context, entityType, id string) (*engine.Entity, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM entities WHERE type = ? AND id = ?`, entityType, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entityType, id, err)
	}
	entities, err := s.load(ctx, []int64{seq})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, engine.ErrNotFound)
	}
	return entities[0], nil
}

// Relations returns the stored objects of e through relationType, in link
// order.
func (s *Store) Relations(ctx context.Context, e *engine.Entity, relationType string) ([]*engine.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.seq FROM relations r
		JOIN entities o ON o.type = r.object_type AND o.id = r.object_id
		WHERE r.rtype = ? AND r.subject_type = ? AND r.subject_id = ?
		ORDER BY r.seq`,
		relationType, e.Type, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("relations %s of %s %s: %w", relationType, e.Type, e.ID, err)
	}
	seqs, err := scanSeqs(rows)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, seqs)
}

func scanSeqs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, rows.Err()
}

// ============================================================================
// LOADING
// ============================================================================

type valueRow struct {
	seq   int64
	key   string
	value string
}

// load returns the entities at seqs in the same order. Positions that no
// longer exist are skipped.
func (s *Store) load(ctx context.Context, seqs []int64) ([]*engine.Entity, error) {
	bySeq, err := s.loadBySeq(ctx, seqs)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.Entity, 0, len(seqs))
	for _, seq := range seqs {
		if e, ok := bySeq[seq]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// loadBySeq reads the entities at seqs keyed by seq. Seqs deleted meanwhile
// have no entry.
func (s *Store) loadBySeq(ctx context.Context, seqs []int64) (map[int64]*engine.Entity, error) {
	bySeq := make(map[int64]*engine.Entity, len(seqs))

	for part := range slices.Chunk(seqs, chunkSize) {
		in := " IN (" + placeholders(len(part)) + ")"
		args := seqArgs(part)

		rows, err := s.db.QueryContext(ctx, `SELECT seq, type, id, name, owner FROM entities WHERE seq`+in, args...)
		if err != nil {
			return nil, fmt.Errorf("load entities: %w", err)
		}
		if err := scanEntities(rows, bySeq); err != nil {
			return nil, fmt.Errorf("load entities: %w", err)
		}

		fields, err := s.valueRows(ctx, `SELECT entity_seq, key, value FROM field_values WHERE entity_seq`+in+` ORDER BY entity_seq, key, pos`, args)
		if err != nil {
			return nil, fmt.Errorf("load fields: %w", err)
		}
		for e, values := range group(fields, bySeq) {
			e.Fields = make(map[string]any, len(values))
			for key, raws := range values {
				e.Fields[key] = decode(s.attributeKind(e.Type, key), raws)
			}
		}

		custom, err := s.valueRows(ctx, `SELECT entity_seq, field_id, value FROM custom_values WHERE entity_seq`+in+` ORDER BY entity_seq, field_id, pos`, args)
		if err != nil {
			return nil, fmt.Errorf("load custom fields: %w", err)
		}
		for e, values := range group(custom, bySeq) {
			e.Custom = make(map[string]any, len(values))
			for id, raws := range values {
				e.Custom[id] = decode(s.customKind(e.Type, id), raws)
			}
		}
	}
	return bySeq, nil
}

func scanEntities(rows *sql.Rows, into map[int64]*engine.Entity) error {
	defer rows.Close()
	for rows.Next() {
		var seq int64
		e := &engine.Entity{}
		if err := rows.Scan(&seq, &e.Type, &e.ID, &e.Name, &e.Owner); err != nil {
			return err
		}
		into[seq] = e
	}
	return rows.Err()
}

func (s *Store) valueRows(ctx context.Context, q string, args []any) ([]valueRow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []valueRow
	for rows.Next() {
		var r valueRow
		if err := rows.Scan(&r.seq, &r.key, &r.value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// group collects raw values per entity and key.
func group(rows []valueRow, entities map[int64]*engine.Entity) map[*engine.Entity]map[string][]string {
	out := make(map[*engine.Entity]map[string][]string)
	for _, r := range rows {
		e, ok := entities[r.seq]
		if !ok {
			continue
		}
		values := out[e]
		if values == nil {
			values = make(map[string][]string)
			out[e] = values
		}
		values[r.key] = append(values[r.key], r.value)
	}
	return out
}

// ============================================================================
// CURSOR
// ============================================================================

type cursor struct {
	store *Store
	user  *engine.User
	seqs  []int64 // not loaded yet
	page  []*engine.Entity
	pos   int
	cur   *engine.Entity
	err   error
}

func (c *cursor) Next(ctx context.Context) bool {
	for {
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if c.pos >= len(c.page) {
			if len(c.seqs) == 0 {
				c.cur = nil
				return false
			}
			n := min(pageSize, len(c.seqs))
			page, err := c.store.load(ctx, c.seqs[:n])
			if err != nil {
				c.err = err
				return false
			}
			c.seqs, c.page, c.pos = c.seqs[n:], page, 0
			continue
		}

		e := c.page[c.pos]
		c.pos++
		if c.store.visible(c.user, e) {
			c.cur = e
			return true
		}
	}
}

func (c *cursor) Entity() *engine.Entity { return c.cur }
func (c *cursor) Err() error             { return c.err }
func (c *cursor) Close() error           { return nil }

func (s *Store) visible(user *engine.User, e *engine.Entity) bool {
	return s.creds == nil || s.creds.CanView(user, e)
}
