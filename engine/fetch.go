package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ============================================================================
// FETCH — Report → rows
// ============================================================================
// Entry point: Fetcher.Prepare(ctx, reportID, user) → Plan, Plan.Each(...)
//
// Pipeline:
//   1. Load the report and resolve every column into a Hand, once
//      - unresolvable columns are logged and deleted from the report store
//      - hidden columns are dropped from output
//      - sub-reports are prepared recursively (visiting set guards cycles)
//   2. Fetch the report scope (entity type + saved filter + extra) from the store
//   3. Per entity: one raw line of cells, the expanded column nested
//   4. Expand the line into flat rows, honoring the row limit
//
// A Hand that fails or panics on an entity is disabled for the rest of the
// fetch; its cells stay empty and the fetch continues.
// ============================================================================

// Fetcher builds report plans.
type Fetcher struct {
	env      *Env
	registry *Registry
	reports  ReportStore
	logger   *slog.Logger
}

// NewFetcher returns a fetcher over env.
func NewFetcher(env *Env, registry *Registry, reports ReportStore, opts ...Option) *Fetcher {
	cfg := applyOptions(opts)
	return &Fetcher{
		env:      env,
		registry: registry,
		reports:  reports,
		logger:   cfg.Logger,
	}
}

// FetchOptions narrows a fetch.
type FetchOptions struct {
	Limit int         // max emitted rows, 0 = all
	Extra []Condition // extra constraints on the report scope
}

// Plan is a report with its hands resolved, bound to one user. A plan is
// fetch-scoped: do not share it between concurrent fetches.
type Plan struct {
	env     *Env
	logger  *slog.Logger
	report  *Report
	scope   Scope
	columns []*planColumn
}

type planColumn struct {
	hand   Hand
	child  *Plan // prepared sub-report, nil when none is usable
	expand bool
	failed bool
}

// Prepare resolves a report for user.
func (f *Fetcher) Prepare(ctx context.Context, reportID string, user *User, extra ...Condition) (*Plan, error) {
	return f.prepare(ctx, reportID, user, extra, make(map[string]bool))
}

func (f *Fetcher) prepare(ctx context.Context, reportID string, user *User, extra []Condition, visiting map[string]bool) (*Plan, error) {
	if visiting[reportID] {
		return nil, &ConfigurationError{Op: "prepare report " + reportID, Err: ErrCycle}
	}
	visiting[reportID] = true
	defer delete(visiting, reportID)

	report, err := f.reports.Report(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", reportID, err)
	}
	scope, err := f.env.scopeFor(ctx, report.EntityType, report.FilterID, user, extra)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		env:    f.env,
		logger: f.logger.With("report", report.ID),
		report: report,
		scope:  scope,
	}

	// Only the first selected column in column order may expand, whether or
	// not its sub-report turns out usable.
	selected := false
	for _, spec := range report.SortedColumns() {
		hand, err := f.registry.Resolve(f.env, report.EntityType, spec)
		if err != nil {
			var invalid *InvalidColumnError
			if !errors.As(err, &invalid) {
				return nil, err
			}
			f.dropColumn(ctx, report, spec, invalid)
			continue
		}
		if hand.Hidden() {
			continue
		}

		col := &planColumn{hand: hand}
		if spec.SubReportID != "" {
			col.child, err = f.prepareChild(ctx, plan, spec, hand, user, visiting)
			if err != nil {
				return nil, err
			}
		}
		if spec.Selected {
			if selected {
				plan.logger.Warn("several expanded columns, keeping the first",
					"column", spec.ID, "ref", spec.Ref().String())
			} else {
				col.expand = col.child != nil
				selected = true
			}
		}
		plan.columns = append(plan.columns, col)
	}

	return plan, nil
}

// prepareChild prepares the sub-report of a column. A missing or no longer
// linkable sub-report leaves the column flat; a cycle is fatal.
func (f *Fetcher) prepareChild(ctx context.Context, plan *Plan, spec ColumnSpec, hand Hand, user *User, visiting map[string]bool) (*Plan, error) {
	child, err := f.prepare(ctx, spec.SubReportID, user, nil, visiting)
	if err != nil {
		if errors.Is(err, ErrCycle) {
			return nil, err
		}
		plan.logger.Warn("sub-report unavailable", "column", spec.ID, "sub_report", spec.SubReportID, "error", err)
		return nil, nil
	}
	if _, ok := linkableTo(hand, child.report.EntityType); !ok {
		plan.logger.Warn("sub-report not linkable to column", "column", spec.ID,
			"sub_report", spec.SubReportID, "entity_type", child.report.EntityType)
		return nil, nil
	}
	return child, nil
}

// dropColumn deletes a column that can never be resolved.
func (f *Fetcher) dropColumn(ctx context.Context, report *Report, spec ColumnSpec, invalid *InvalidColumnError) {
	f.logger.Warn("deleting invalid column",
		"report", report.ID, "column", spec.ID, "ref", spec.Ref().String(), "reason", invalid.Reason)
	if err := f.reports.DeleteColumn(ctx, report.ID, spec.ID); err != nil {
		f.logger.Error("failed to delete invalid column", "report", report.ID, "column", spec.ID, "error", err)
	}
}

// ============================================================================
// PLAN
// ============================================================================

// Report returns the report the plan was built from.
func (p *Plan) Report() *Report { return p.report }

// Scope returns the scope rows are fetched from.
func (p *Plan) Scope() Scope { return p.scope }

// Hands returns the visible hands in column order.
func (p *Plan) Hands() []Hand {
	hands := make([]Hand, len(p.columns))
	for i, col := range p.columns {
		hands[i] = col.hand
	}
	return hands
}

// Header returns the column titles, expanded sub-report titles inlined.
func (p *Plan) Header() []string {
	var header []string
	for _, col := range p.columns {
		if col.expand {
			header = append(header, col.child.Header()...)
			continue
		}
		header = append(header, col.hand.Title())
	}
	return header
}

// Each emits the rows of the report in entity order. It stops after limit
// rows (0 = no limit) or as soon as fn returns false, without pulling
// further entities.
func (p *Plan) Each(ctx context.Context, limit int, fn func(row []string) bool) error {
	cur, err := p.env.Store.Fetch(ctx, p.scope)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p.scope.EntityType, err)
	}
	defer cur.Close()

	emitted := 0
	done := false
	emit := func(row []string) bool {
		if limit > 0 && emitted >= limit {
			done = true
			return false
		}
		emitted++
		if !fn(row) {
			done = true
			return false
		}
		return true
	}

	for !done && cur.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := cur.Entity()
		if !p.env.canView(p.scope.User, e) {
			continue
		}
		expandLine(p.line(ctx, e, p.scope), emit)
		if limit > 0 && emitted >= limit {
			done = true
		}
	}
	return cur.Err()
}

// line evaluates every visible column of e. Aggregates are computed over
// scope, which is narrower than the plan's own for sub-report lines.
func (p *Plan) line(ctx context.Context, e *Entity, scope Scope) []Cell {
	line := make([]Cell, len(p.columns))
	for i, col := range p.columns {
		line[i] = p.cell(ctx, col, e, scope)
	}
	return line
}

// emptyLine stands for "no child matched": nulls, with expanded columns
// nested one level so the width matches the header.
func (p *Plan) emptyLine() []Cell {
	line := make([]Cell, len(p.columns))
	for i, col := range p.columns {
		if col.expand {
			line[i] = Nested([][]Cell{col.child.emptyLine()})
		} else {
			line[i] = Null()
		}
	}
	return line
}

func (p *Plan) cell(ctx context.Context, col *planColumn, e *Entity, scope Scope) Cell {
	if col.failed {
		return p.failedCell(col)
	}

	if col.child == nil {
		c, err := p.value(ctx, col.hand, e, scope)
		if err != nil {
			p.disable(col, err)
			return p.failedCell(col)
		}
		return c
	}

	lines, err := p.children(ctx, col, e)
	if err != nil {
		p.disable(col, err)
		return p.failedCell(col)
	}
	if col.expand {
		if len(lines) == 0 {
			lines = [][]Cell{col.child.emptyLine()}
		}
		return Nested(lines)
	}
	if len(lines) == 0 {
		return Null()
	}
	return Scalar(flattenLines(lines))
}

func (p *Plan) failedCell(col *planColumn) Cell {
	if col.expand {
		return Nested([][]Cell{col.child.emptyLine()})
	}
	return Null()
}

// value calls the hand, turning a panic into an error.
func (p *Plan) value(ctx context.Context, h Hand, e *Entity, scope Scope) (c Cell, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Value(ctx, e, scope.User, scope)
}

// children evaluates the sub-report of col over the targets of e, keeping
// target order. Targets are restricted to those the user may view and, when
// the sub-report has a saved filter, to those matching it. The child's
// aggregate columns are computed over the kept targets.
func (p *Plan) children(ctx context.Context, col *planColumn, e *Entity) (lines [][]Cell, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !p.env.canView(p.scope.User, e) {
		return nil, nil
	}
	child := col.child
	targets, err := col.hand.(Linkable).Targets(ctx, e, p.scope.User)
	if err != nil {
		return nil, err
	}

	kept := make([]*Entity, 0, len(targets))
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Type == child.report.EntityType && p.env.canView(p.scope.User, t) {
			kept = append(kept, t)
			ids = append(ids, t.ID)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	if child.scope.Filter != nil {
		matching, err := collect(ctx, p.env.Store, child.scope.With(idIn(ids)))
		if err != nil {
			return nil, err
		}
		allowed := make(map[string]bool, len(matching))
		for _, m := range matching {
			allowed[m.ID] = true
		}
		filtered := kept[:0]
		for _, t := range kept {
			if allowed[t.ID] {
				filtered = append(filtered, t)
			}
		}
		kept = filtered
	}

	// The child's aggregates cover these targets only, not its whole scope.
	keptIDs := make([]string, len(kept))
	for i, t := range kept {
		keptIDs[i] = t.ID
	}
	scope := child.scope.With(idIn(keptIDs))

	lines = make([][]Cell, 0, len(kept))
	for _, t := range kept {
		lines = append(lines, child.line(ctx, t, scope))
	}
	return lines, nil
}

func (p *Plan) disable(col *planColumn, err error) {
	col.failed = true
	spec := col.hand.Spec()
	p.logger.Error("column failed, disabled for this fetch",
		"column", spec.ID, "ref", spec.Ref().String(), "error", err)
}
