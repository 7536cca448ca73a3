package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// REPORT STORE & FILTERS
// ============================================================================
// Reports and charts are stored as copies so callers can edit what they load
// without touching the stored version until they save it.
// ============================================================================

// Report returns a copy of a stored report.
func (s *Store) Report(_ context.Context, id string) (*engine.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, engine.ErrNotFound)
	}
	return r.Clone(), nil
}

// SaveReport stores a copy of r, assigning ids to the report and its
// columns when missing. Reports with several selected columns or a
// sub-report cycle are rejected.
func (s *Store) SaveReport(_ context.Context, r *engine.Report) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	links := make(engine.ReportGraph, len(s.reports))
	for id, stored := range s.reports {
		for _, c := range stored.Columns {
			if c.SubReportID != "" {
				links[id] = append(links[id], c.SubReportID)
			}
		}
	}
	if err := engine.CheckReport(r, links); err != nil {
		return err
	}
	s.reports[r.ID] = r.Clone()
	return nil
}

// DeleteColumn removes a column from a stored report.
func (s *Store) DeleteColumn(_ context.Context, reportID, columnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return fmt.Errorf("report %s: %w", reportID, engine.ErrNotFound)
	}
	for i, c := range r.Columns {
		if c.ID == columnID {
			r.Columns = append(r.Columns[:i:i], r.Columns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("column %s of report %s: %w", columnID, reportID, engine.ErrNotFound)
}

// Chart returns a copy of a stored chart.
func (s *Store) Chart(_ context.Context, id string) (*engine.ChartSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.charts[id]
	if !ok {
		return nil, fmt.Errorf("chart %s: %w", id, engine.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// SaveChart stores a copy of c, assigning an id when missing.
func (s *Store) SaveChart(_ context.Context, c *engine.ChartSpec) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	if c.Ordinate.Cell != nil {
		cell := *c.Ordinate.Cell
		cp.Ordinate.Cell = &cell
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts[cp.ID] = &cp
	return nil
}

// Filter returns a copy of a saved filter.
func (s *Store) Filter(_ context.Context, id string) (*engine.Filter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.filters[id]
	if !ok {
		return nil, fmt.Errorf("filter %s: %w", id, engine.ErrNotFound)
	}
	return f.Clone(), nil
}

// SaveFilter stores a copy of f, assigning an id when missing.
func (s *Store) SaveFilter(f *engine.Filter) error {
	for _, c := range f.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("filter %q: %w", f.Name, err)
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[f.ID] = f.Clone()
	return nil
}
