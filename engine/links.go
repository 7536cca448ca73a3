package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// ============================================================================
// LINKS — Attaching sub-reports to columns
// ============================================================================
// Sub-report links form a graph over report ids that must stay acyclic.
// Every new link is checked with a DFS before it is persisted, and stores
// run CheckReport on every save; fetches never rely on recursion depth to
// notice a cycle.
// ============================================================================

// ReportGraph maps a report id to the sub-report ids its columns link to.
type ReportGraph map[string][]string

// Cycle returns a cycle reachable from start, if any, as the list of report
// ids walked (first and last equal).
func (g ReportGraph) Cycle(start string) ([]string, bool) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		switch state[id] {
		case visiting:
			i := slices.Index(path, id)
			return append(slices.Clone(path[i:]), id), true
		case done:
			return nil, false
		}
		state[id] = visiting
		path = append(path, id)
		for _, next := range g[id] {
			if cycle, ok := visit(next); ok {
				return cycle, true
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil, false
	}
	return visit(start)
}

// CheckReport rejects a report a store must not persist: one with several
// selected columns, or whose sub-report links close a cycle in links, the
// graph of the reports already stored. The entry of r in links is replaced
// by r's own links; links to reports not stored yet are allowed.
func CheckReport(r *Report, links ReportGraph) error {
	g := make(ReportGraph, len(links)+1)
	maps.Copy(g, links)
	g[r.ID] = nil

	selected := 0
	for _, c := range r.Columns {
		if c.Selected {
			selected++
		}
		if c.SubReportID != "" {
			g[r.ID] = append(g[r.ID], c.SubReportID)
		}
	}
	if selected > 1 {
		return &ConfigurationError{Op: "save report " + r.ID, Err: ErrSeveralSelected}
	}
	if cycle, ok := g.Cycle(r.ID); ok {
		return &ConfigurationError{
			Op:  "save report " + r.ID,
			Err: fmt.Errorf("%w: %v", ErrCycle, cycle),
		}
	}
	return nil
}

// Linker edits sub-report links.
type Linker struct {
	env      *Env
	registry *Registry
	reports  ReportStore
	logger   *slog.Logger
}

// NewLinker returns a linker over env.
func NewLinker(env *Env, registry *Registry, reports ReportStore, opts ...Option) *Linker {
	cfg := applyOptions(opts)
	return &Linker{env: env, registry: registry, reports: reports, logger: cfg.Logger}
}

// Link attaches subReportID to a column. The column must be able to host a
// sub-report over the sub-report's entity type, and the link must not close
// a cycle.
func (l *Linker) Link(ctx context.Context, reportID, columnID, subReportID string) error {
	report, col, err := l.column(ctx, reportID, columnID)
	if err != nil {
		return err
	}
	sub, err := l.reports.Report(ctx, subReportID)
	if err != nil {
		return fmt.Errorf("load report %s: %w", subReportID, err)
	}

	hand, err := l.registry.Resolve(l.env, report.EntityType, *col)
	if err != nil {
		return err
	}
	if _, ok := linkableTo(hand, sub.EntityType); !ok {
		return &ConfigurationError{
			Op:  fmt.Sprintf("link %s to report %s", col.Ref(), subReportID),
			Err: fmt.Errorf("%w: %s", ErrNotLinkable, sub.EntityType),
		}
	}

	graph, err := l.graph(ctx, subReportID)
	if err != nil {
		return err
	}
	graph[reportID] = append(graph[reportID], subReportID)
	if cycle, ok := graph.Cycle(reportID); ok {
		return &ConfigurationError{
			Op:  fmt.Sprintf("link %s to report %s", col.Ref(), subReportID),
			Err: fmt.Errorf("%w: %v", ErrCycle, cycle),
		}
	}

	col.SubReportID = subReportID
	if err := l.reports.SaveReport(ctx, report); err != nil {
		return err
	}
	l.logger.Info("sub-report linked", "report", reportID, "column", columnID, "sub_report", subReportID)
	return nil
}

// Unlink detaches the sub-report of a column.
func (l *Linker) Unlink(ctx context.Context, reportID, columnID string) error {
	report, col, err := l.column(ctx, reportID, columnID)
	if err != nil {
		return err
	}
	col.SubReportID = ""
	col.Selected = false
	return l.reports.SaveReport(ctx, report)
}

// Select marks the column whose sub-report is expanded, clearing any other
// selection of the report. selected=false clears the column.
func (l *Linker) Select(ctx context.Context, reportID, columnID string, selected bool) error {
	report, col, err := l.column(ctx, reportID, columnID)
	if err != nil {
		return err
	}
	if selected && col.SubReportID == "" {
		return &ConfigurationError{Op: "select " + col.Ref().String(), Err: ErrNotLinkable}
	}
	for i := range report.Columns {
		report.Columns[i].Selected = false
	}
	col.Selected = selected
	return l.reports.SaveReport(ctx, report)
}

func (l *Linker) column(ctx context.Context, reportID, columnID string) (*Report, *ColumnSpec, error) {
	report, err := l.reports.Report(ctx, reportID)
	if err != nil {
		return nil, nil, fmt.Errorf("load report %s: %w", reportID, err)
	}
	col, ok := report.Column(columnID)
	if !ok {
		return nil, nil, fmt.Errorf("column %s of report %s: %w", columnID, reportID, ErrNotFound)
	}
	return report, col, nil
}

// graph loads the links reachable from root.
func (l *Linker) graph(ctx context.Context, root string) (ReportGraph, error) {
	g := make(ReportGraph)
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := g[id]; seen {
			continue
		}
		r, err := l.reports.Report(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load report %s: %w", id, err)
		}
		g[id] = nil
		for _, c := range r.Columns {
			if c.SubReportID != "" {
				g[id] = append(g[id], c.SubReportID)
				queue = append(queue, c.SubReportID)
			}
		}
	}
	return g, nil
}
