package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// REPORT STORE & FILTERS
// ============================================================================
// Report columns get their own rows so DeleteColumn is a single statement.
// Charts and filter conditions are small documents and are kept as JSON.
// ============================================================================

// Report loads a report and its columns.
func (s *Store) Report(ctx context.Context, id string) (*engine.Report, error) {
	r := &engine.Report{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, entity_type, filter_id FROM reports WHERE id = ?`, id,
	).Scan(&r.Name, &r.EntityType, &r.FilterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, value, ord, selected, sub_report_id
		FROM report_columns WHERE report_id = ? ORDER BY pos`, id)
	if err != nil {
		return nil, fmt.Errorf("load columns of report %s: %w", id, err)
	}
	defer rows.Close()

	r.Columns = []engine.ColumnSpec{}
	for rows.Next() {
		c := engine.ColumnSpec{ReportID: id}
		if err := rows.Scan(&c.ID, &c.Kind, &c.Value, &c.Order, &c.Selected, &c.SubReportID); err != nil {
			return nil, fmt.Errorf("load columns of report %s: %w", id, err)
		}
		r.Columns = append(r.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load columns of report %s: %w", id, err)
	}
	return r, nil
}

// SaveReport writes r and replaces its columns, assigning ids to the report
// and its columns when missing. Reports with several selected columns or a
// sub-report cycle are rejected.
func (s *Store) SaveReport(ctx context.Context, r *engine.Report) error {
	if r.EntityType == "" {
		return fmt.Errorf("report %q: entity type is required", r.Name)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for i := range r.Columns {
		if r.Columns[i].ID == "" {
			r.Columns[i].ID = uuid.NewString()
		}
		r.Columns[i].ReportID = r.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	links, err := reportLinks(ctx, tx)
	if err != nil {
		return err
	}
	if err := engine.CheckReport(r, links); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (id, name, entity_type, filter_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, entity_type = excluded.entity_type, filter_id = excluded.filter_id`,
		r.ID, r.Name, r.EntityType, r.FilterID,
	); err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM report_columns WHERE report_id = ?`, r.ID); err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	for pos, c := range r.Columns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO report_columns (report_id, id, pos, kind, value, ord, selected, sub_report_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, c.ID, pos, int(c.Kind), c.Value, c.Order, c.Selected, c.SubReportID,
		); err != nil {
			return fmt.Errorf("save column %s of report %s: %w", c.ID, r.ID, err)
		}
	}
	return tx.Commit()
}

// reportLinks reads the sub-report graph of the stored reports.
func reportLinks(ctx context.Context, tx *sql.Tx) (engine.ReportGraph, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT report_id, sub_report_id FROM report_columns WHERE sub_report_id <> ''`)
	if err != nil {
		return nil, fmt.Errorf("load report links: %w", err)
	}
	defer rows.Close()

	links := make(engine.ReportGraph)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("load report links: %w", err)
		}
		links[from] = append(links[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load report links: %w", err)
	}
	return links, nil
}

// DeleteColumn removes a column from a stored report.
func (s *Store) DeleteColumn(ctx context.Context, reportID, columnID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM report_columns WHERE report_id = ? AND id = ?`, reportID, columnID)
	if err != nil {
		return fmt.Errorf("delete column %s of report %s: %w", columnID, reportID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete column %s of report %s: %w", columnID, reportID, err)
	}
	if n == 0 {
		return fmt.Errorf("column %s of report %s: %w", columnID, reportID, engine.ErrNotFound)
	}
	return nil
}

// Chart loads a chart.
func (s *Store) Chart(ctx context.Context, id string) (*engine.ChartSpec, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM charts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chart %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chart %s: %w", id, err)
	}
	var c engine.ChartSpec
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("decode chart %s: %w", id, err)
	}
	c.ID = id
	return &c, nil
}

// SaveChart writes c, assigning an id when missing.
func (s *Store) SaveChart(ctx context.Context, c *engine.ChartSpec) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chart %s: %w", c.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO charts (id, body) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body`,
		c.ID, string(body),
	); err != nil {
		return fmt.Errorf("save chart %s: %w", c.ID, err)
	}
	return nil
}

// Filter loads a saved filter.
func (s *Store) Filter(ctx context.Context, id string) (*engine.Filter, error) {
	f := &engine.Filter{ID: id}
	var conds string
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_type, name, conditions FROM filters WHERE id = ?`, id,
	).Scan(&f.EntityType, &f.Name, &conds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filter %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load filter %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(conds), &f.Conditions); err != nil {
		return nil, fmt.Errorf("decode filter %s: %w", id, err)
	}
	return f, nil
}

// SaveFilter writes a filter, assigning an id when missing.
func (s *Store) SaveFilter(ctx context.Context, f *engine.Filter) error {
	for _, c := range f.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("filter %q: %w", f.Name, err)
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	conds, err := json.Marshal(f.Conditions)
	if err != nil {
		return fmt.Errorf("encode filter %s: %w", f.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (id, entity_type, name, conditions) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET entity_type = excluded.entity_type, name = excluded.name, conditions = excluded.conditions`,
		f.ID, f.EntityType, f.Name, string(conds),
	); err != nil {
		return fmt.Errorf("save filter %s: %w", f.ID, err)
	}
	return nil
}
