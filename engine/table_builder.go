package engine

import (
	"context"
	"fmt"
)

// ============================================================================
// TABLE BUILDER — Produces TableData from a report fetch
// ============================================================================
// Column discovery walks the plan: expanded sub-reports contribute their own
// columns in place of the column hosting them.
// ============================================================================

// TableData is render-ready report output.
type TableData struct {
	Title   string     `json:"title"`
	Columns []Column   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Summary *Summary   `json:"summary,omitempty"`
}

// Column defines a table column.
type Column struct {
	Key   string `json:"key"`   // column reference, "<kind>-<value>"
	Label string `json:"label"`
	Type  string `json:"type"`  // "text", "number"
	Align string `json:"align"` // "left", "right"
}

// Summary describes the table as a whole.
type Summary struct {
	Label  string            `json:"label"`
	Values map[string]string `json:"values,omitempty"`
}

// Header returns the column labels.
func (t *TableData) Header() []string {
	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Label
	}
	return header
}

// Fetch runs a report for user and collects its rows.
func (f *Fetcher) Fetch(ctx context.Context, reportID string, user *User, opts FetchOptions) (*TableData, error) {
	plan, err := f.Prepare(ctx, reportID, user, opts.Extra...)
	if err != nil {
		return nil, err
	}
	return BuildTable(ctx, plan, opts.Limit)
}

// BuildTable runs a prepared plan.
func BuildTable(ctx context.Context, plan *Plan, limit int) (*TableData, error) {
	table := &TableData{
		Title:   plan.report.Name,
		Columns: plan.Columns(),
		Rows:    [][]string{},
	}

	err := plan.Each(ctx, limit, func(row []string) bool {
		table.Rows = append(table.Rows, row)
		return true
	})
	if err != nil {
		return nil, err
	}

	table.Summary = &Summary{Label: fmt.Sprintf("%d rows", len(table.Rows))}
	return table, nil
}

// Columns describes the output columns, expanded sub-reports inlined.
func (p *Plan) Columns() []Column {
	var cols []Column
	for _, col := range p.columns {
		if col.expand {
			cols = append(cols, col.child.Columns()...)
			continue
		}
		c := Column{
			Key:   col.hand.Spec().Ref().String(),
			Label: col.hand.Title(),
			Type:  "text",
			Align: "left",
		}
		if isNumeric(col.hand) {
			c.Type, c.Align = "number", "right"
		}
		cols = append(cols, c)
	}
	return cols
}

func isNumeric(h Hand) bool {
	switch v := h.(type) {
	case *aggregateHand:
		return true
	case *regularHand:
		return v.attr.Kind.Numeric()
	case *customHand:
		return v.field.Kind.Numeric()
	}
	return false
}
