package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// SOURCES — Where the values of a cell live
// ============================================================================
// A source is a set of rows correlated to the outer entity alias "e". Each
// row yields one value through expr. Conditions wrap a source in EXISTS,
// aggregates select expr for a batch of entities.
// ============================================================================

// chunkSize bounds the number of bound parameters of one IN list.
const chunkSize = 500

var builtinColumns = map[string]string{"id": "id", "name": "name", "owner": "owner"}

type source struct {
	from  string // tables joined to e; empty for entity columns
	where string // correlation to e, placeholders bound by args
	expr  string
	args  []any
}

// source resolves ref on entityType. ok is false when the cell can never
// hold a value.
func (s *Store) source(entityType string, ref engine.ColumnRef) (source, bool) {
	switch ref.Kind {
	case engine.KindField:
		head, rest, hop := strings.Cut(ref.Value, schema.PathSeparator)
		if !hop {
			if col, ok := builtinColumns[head]; ok {
				return source{where: "e." + col + " <> ''", expr: "e." + col}, true
			}
			return source{
				from:  "field_values fv",
				where: "fv.entity_seq = e.seq AND fv.key = ?",
				expr:  "fv.value",
				args:  []any{head},
			}, true
		}
		return s.hopSource(entityType, head, rest)
	case engine.KindCustom:
		return source{
			from:  "custom_values cv",
			where: "cv.entity_seq = e.seq AND cv.field_id = ?",
			expr:  "cv.value",
			args:  []any{ref.Value},
		}, true
	case engine.KindRelation:
		return source{
			from:  "relations r",
			where: "r.subject_type = e.type AND r.subject_id = e.id AND r.rtype = ?",
			expr:  "r.object_id",
			args:  []any{ref.Value},
		}, true
	}
	return source{}, false
}

// hopSource follows a reference attribute to one attribute of its target.
func (s *Store) hopSource(entityType, head, rest string) (source, bool) {
	if s.schema == nil {
		return source{}, false
	}
	et, ok := s.schema.Type(entityType)
	if !ok {
		return source{}, false
	}
	attr, ok := et.Attribute(head)
	if !ok || !attr.Kind.Reference() {
		return source{}, false
	}

	const link = "fv.entity_seq = e.seq AND fv.key = ? AND t.type = ? AND t.id = fv.value"
	if col, ok := builtinColumns[rest]; ok {
		return source{
			from:  "field_values fv, entities t",
			where: link + " AND t." + col + " <> ''",
			expr:  "t." + col,
			args:  []any{head, attr.Target},
		}, true
	}
	return source{
		from:  "field_values fv, entities t, field_values tv",
		where: link + " AND tv.entity_seq = t.seq AND tv.key = ?",
		expr:  "tv.value",
		args:  []any{head, attr.Target, rest},
	}, true
}

// exists returns an expression true when some row of src satisfies pred.
func (src source) exists(pred string, predArgs ...any) (string, []any) {
	cond := src.where
	if pred != "" {
		cond += " AND " + pred
	}
	args := append(slices.Clone(src.args), predArgs...)
	if src.from == "" {
		return "(" + cond + ")", args
	}
	return "EXISTS (SELECT 1 FROM " + src.from + " WHERE " + cond + ")", args
}

// ============================================================================
// CONDITIONS
// ============================================================================
// Text comparisons are case-insensitive. Date values are stored as ISO text,
// date-times compare on their day.
// ============================================================================

const (
	never  = "0 = 1"
	always = "1 = 1"
)

func isDate(expr string) string {
	return expr + " GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]*'"
}

// folded is the comparable text of a value.
func folded(expr string) string {
	return fmt.Sprintf("lower(CASE WHEN %s GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T*' THEN substr(%s, 1, 10) ELSE %s END)", expr, expr, expr)
}

func (s *Store) condition(entityType string, c engine.Condition) (string, []any) {
	src, ok := s.source(entityType, c.Cell)
	if !ok {
		if c.Op == engine.OpIsNull {
			return always, nil
		}
		return never, nil
	}

	switch c.Op {
	case engine.OpIsNull:
		sql, args := src.exists("")
		return "NOT " + sql, args
	case engine.OpNotNull:
		return src.exists("")
	case engine.OpEqual, engine.OpIn:
		if len(c.Values) == 0 {
			return never, nil
		}
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			args[i] = strings.ToLower(v)
		}
		return src.exists(folded(src.expr)+" IN ("+placeholders(len(args))+")", args...)
	case engine.OpContains:
		return src.exists("instr(lower("+src.expr+"), ?) > 0", strings.ToLower(firstValue(c.Values)))
	case engine.OpYear:
		return src.exists(isDate(src.expr)+" AND substr("+src.expr+", 1, 4) = ?", firstValue(c.Values))
	case engine.OpMonth:
		return src.exists(isDate(src.expr)+" AND substr("+src.expr+", 1, 7) = ?", firstValue(c.Values))
	case engine.OpDay:
		return src.exists(isDate(src.expr)+" AND substr("+src.expr+", 1, 10) = ?", firstValue(c.Values))
	case engine.OpRange:
		if len(c.Values) != 2 {
			return never, nil
		}
		lo, err1 := time.Parse(schema.DateLayout, c.Values[0])
		hi, err2 := time.Parse(schema.DateLayout, c.Values[1])
		if err1 != nil || err2 != nil {
			return never, nil
		}
		return src.exists(isDate(src.expr)+" AND substr("+src.expr+", 1, 10) BETWEEN ? AND ?",
			lo.Format(schema.DateLayout), hi.Format(schema.DateLayout))
	}
	return never, nil
}

// scopeWhere compiles the entity type and every condition of scope.
func (s *Store) scopeWhere(scope engine.Scope) (string, []any) {
	parts := []string{"e.type = ?"}
	args := []any{scope.EntityType}
	for _, c := range scope.Conditions() {
		sql, condArgs := s.condition(scope.EntityType, c)
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}
	return strings.Join(parts, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func seqArgs(seqs []int64) []any {
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	return args
}

// ============================================================================
// MATCHING
// ============================================================================

// query returns the positions of the entities of scope in store order,
// without credential checks.
func (s *Store) query(ctx context.Context, scope engine.Scope) ([]int64, error) {
	where, args := s.scopeWhere(scope)
	rows, err := s.db.QueryContext(ctx, "SELECT e.seq FROM entities e WHERE "+where+" ORDER BY e.seq", args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", scope.EntityType, err)
	}
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

// match is query restricted to the entities the scope user may view. A seq
// whose entity is gone by the time it is loaded is dropped.
func (s *Store) match(ctx context.Context, scope engine.Scope) ([]int64, error) {
	seqs, err := s.query(ctx, scope)
	if err != nil || s.creds == nil || len(seqs) == 0 {
		return seqs, err
	}
	bySeq, err := s.loadBySeq(ctx, seqs)
	if err != nil {
		return nil, err
	}
	visible := seqs[:0]
	for _, seq := range seqs {
		if e, ok := bySeq[seq]; ok && s.creds.CanView(scope.User, e) {
			visible = append(visible, seq)
		}
	}
	return visible, nil
}

// values returns the raw values of ref over the entities at seqs.
func (s *Store) values(ctx context.Context, entityType string, seqs []int64, ref engine.ColumnRef) ([]string, error) {
	src, ok := s.source(entityType, ref)
	if !ok {
		return nil, nil
	}
	from := "entities e"
	if src.from != "" {
		from += ", " + src.from
	}

	var out []string
	for part := range slices.Chunk(seqs, chunkSize) {
		q := "SELECT " + src.expr + " FROM " + from +
			" WHERE e.seq IN (" + placeholders(len(part)) + ") AND " + src.where
		args := append(seqArgs(part), src.args...)
		vals, err := s.texts(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("values of %s: %w", ref, err)
		}
		out = append(out, vals...)
	}
	return out, nil
}

func (s *Store) texts(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
