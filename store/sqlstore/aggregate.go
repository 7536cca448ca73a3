package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// AGGREGATE SOURCE
// ============================================================================
// Values are read as text and reduced with decimal arithmetic so sums of
// money-like decimals stay exact.
// ============================================================================

// Aggregate reduces the values of ref over scope.
func (s *Store) Aggregate(ctx context.Context, scope engine.Scope, ref engine.ColumnRef, aggregation string) (decimal.Decimal, error) {
	if _, ok := engine.LookupAggregation(aggregation); !ok {
		return decimal.Zero, fmt.Errorf("unknown aggregation %q", aggregation)
	}
	seqs, err := s.match(ctx, scope)
	if err != nil {
		return decimal.Zero, err
	}
	raws, err := s.values(ctx, scope.EntityType, seqs, ref)
	if err != nil {
		return decimal.Zero, err
	}

	values := make([]decimal.Decimal, 0, len(raws))
	for _, raw := range raws {
		if d, ok := engine.ToDecimal(raw); ok {
			values = append(values, d)
		}
	}
	return engine.AggregateValues(aggregation, values), nil
}

// Count returns the number of entities in scope.
func (s *Store) Count(ctx context.Context, scope engine.Scope) (int, error) {
	if s.creds == nil {
		where, args := s.scopeWhere(scope)
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities e WHERE "+where, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", scope.EntityType, err)
		}
		return n, nil
	}
	seqs, err := s.match(ctx, scope)
	return len(seqs), err
}

// dates returns the days of ref in scope.
func (s *Store) dates(ctx context.Context, scope engine.Scope, ref engine.ColumnRef) ([]time.Time, error) {
	seqs, err := s.match(ctx, scope)
	if err != nil {
		return nil, err
	}
	raws, err := s.values(ctx, scope.EntityType, seqs, ref)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(raws))
	for _, raw := range raws {
		if t, ok := schema.AsTime(raw); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// DateUnits returns the distinct units of the dates of ref in scope.
func (s *Store) DateUnits(ctx context.Context, scope engine.Scope, ref engine.ColumnRef, unit engine.DateUnit, ascending bool) ([]time.Time, error) {
	dates, err := s.dates(ctx, scope, ref)
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, t := range dates {
		t = unit.Truncate(t)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
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
	dates, err := s.dates(ctx, scope, ref)
	if err != nil {
		return lo, hi, false, err
	}
	for _, t := range dates {
		t = engine.UnitDay.Truncate(t)
		if !ok || t.Before(lo) {
			lo = t
		}
		if !ok || t.After(hi) {
			hi = t
		}
		ok = true
	}
	return lo, hi, ok, nil
}

// RelatedObjects returns the stored objects related through relationType
// to at least one entity of scope, in store order.
func (s *Store) RelatedObjects(ctx context.Context, scope engine.Scope, relationType string) ([]*engine.Entity, error) {
	seqs, err := s.match(ctx, scope)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var objects []int64
	for part := range slices.Chunk(seqs, chunkSize) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT o.seq FROM relations r
			JOIN entities e ON e.type = r.subject_type AND e.id = r.subject_id
			JOIN entities o ON o.type = r.object_type AND o.id = r.object_id
			WHERE r.rtype = ? AND e.seq IN (`+placeholders(len(part))+`)`,
			append([]any{relationType}, seqArgs(part)...)...,
		)
		if err != nil {
			return nil, fmt.Errorf("related objects %s: %w", relationType, err)
		}
		found, err := scanSeqs(rows)
		if err != nil {
			return nil, fmt.Errorf("related objects %s: %w", relationType, err)
		}
		for _, seq := range found {
			if !seen[seq] {
				seen[seq] = true
				objects = append(objects, seq)
			}
		}
	}
	slices.Sort(objects)
	return s.load(ctx, objects)
}
