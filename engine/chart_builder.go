package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// CHART BUILDER — Abscissa buckets × ordinate aggregate
// ============================================================================
// Entry point: Charter.Fetch(ctx, chartID, user) / Charter.Run(ctx, spec, user)
//
// Pipeline:
//   1. Scope = chart report's entity type + saved filter + extra conditions
//   2. Validate both axes; an invalid axis is reported on the result and
//      yields empty series
//   3. Resolve buckets (labels + conditions) for the group kind
//   4. Aggregate each bucket scope on a bounded worker pool
//   5. Attach a drill-down locator per bucket
// ============================================================================

// Point is one aggregated bucket.
type Point struct {
	Value   decimal.Decimal `json:"value"`
	Locator string          `json:"locator"`
}

// ChartResult is the runtime handle of a chart. Labels and Series are
// index-aligned.
type ChartResult struct {
	Title  string   `json:"title"`
	XAxis  string   `json:"xAxis,omitempty"`
	YAxis  string   `json:"yAxis,omitempty"`
	Labels []string `json:"labels"`
	Series []Point  `json:"series"`

	AbscissaError string `json:"abscissaError,omitempty"`
	OrdinateError string `json:"ordinateError,omitempty"`
}

// HasError reports whether an axis is unusable.
func (r *ChartResult) HasError() bool {
	return r.AbscissaError != "" || r.OrdinateError != ""
}

// bucket is one group of the abscissa.
type bucket struct {
	label      string
	conditions []Condition
}

// Charter computes charts.
type Charter struct {
	env         *Env
	reports     ReportStore
	constraints *Constraints
	dates       *DateFormatter
	logger      *slog.Logger
	workers     int
}

// NewCharter returns a charter over env.
func NewCharter(env *Env, reports ReportStore, opts ...Option) *Charter {
	cfg := applyOptions(opts)
	return &Charter{
		env:         env,
		reports:     reports,
		constraints: NewConstraints(),
		dates:       NewDateFormatter(env.Locale),
		logger:      cfg.Logger,
		workers:     cfg.Workers,
	}
}

// Constraints returns the grouping rules used by the charter.
func (c *Charter) Constraints() *Constraints { return c.constraints }

// Fetch loads a chart and runs it for user.
func (c *Charter) Fetch(ctx context.Context, chartID string, user *User, extra ...Condition) (*ChartResult, error) {
	spec, err := c.reports.Chart(ctx, chartID)
	if err != nil {
		return nil, fmt.Errorf("load chart %s: %w", chartID, err)
	}
	return c.Run(ctx, *spec, user, extra...)
}

// Run computes a chart. Axis problems are reported on the result; only
// store failures are returned as errors.
func (c *Charter) Run(ctx context.Context, spec ChartSpec, user *User, extra ...Condition) (*ChartResult, error) {
	report, err := c.reports.Report(ctx, spec.ReportID)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", spec.ReportID, err)
	}
	scope, err := c.env.scopeFor(ctx, report.EntityType, report.FilterID, user, extra)
	if err != nil {
		return nil, err
	}

	res := &ChartResult{Title: spec.Name, Labels: []string{}, Series: []Point{}}

	ax, aerr := c.constraints.Abscissa(c.env, report.EntityType, spec.Abscissa, false)
	ord, oerr := c.constraints.Ordinate(c.env, report.EntityType, spec.Ordinate, false)
	if aerr != nil {
		res.AbscissaError = aerr.Message
	}
	if oerr != nil {
		res.OrdinateError = oerr.Message
	}
	if res.HasError() {
		c.logger.Warn("chart axis invalid", "chart", spec.ID,
			"abscissa_error", res.AbscissaError, "ordinate_error", res.OrdinateError)
		return res, nil
	}

	res.XAxis = ax.label
	res.YAxis = LabelForAggregation(ord.Aggregation)

	buckets, err := c.buckets(ctx, ax, scope, spec.Ascending)
	if err != nil {
		return nil, err
	}

	values, err := c.aggregate(ctx, scope, ord, buckets)
	if err != nil {
		return nil, err
	}

	for i, b := range buckets {
		conds := append(append([]Condition{}, extra...), b.conditions...)
		loc := Locator{EntityType: report.EntityType, FilterID: report.FilterID, Conditions: conds}
		res.Labels = append(res.Labels, b.label)
		res.Series = append(res.Series, Point{Value: values[i], Locator: loc.Encode()})
	}
	return res, nil
}

// aggregate computes the ordinate of every bucket. Results are index-aligned
// with buckets.
func (c *Charter) aggregate(ctx context.Context, scope Scope, ord *Ordinate, buckets []bucket) ([]decimal.Decimal, error) {
	values := make([]decimal.Decimal, len(buckets))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(c.workers).WithCancelOnError()

	for i, b := range buckets {
		i, b := i, b
		p.Go(func(ctx context.Context) error {
			bscope := scope.With(b.conditions...)
			if ord.Cell == nil {
				n, err := c.env.Store.Count(ctx, bscope)
				if err != nil {
					return fmt.Errorf("count bucket %q: %w", b.label, err)
				}
				values[i] = decimal.NewFromInt(int64(n))
				return nil
			}
			d, err := c.env.Store.Aggregate(ctx, bscope, *ord.Cell, ord.Aggregation)
			if err != nil {
				return fmt.Errorf("aggregate bucket %q: %w", b.label, err)
			}
			values[i] = d
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// ============================================================================
// BUCKETS
// ============================================================================

func (c *Charter) buckets(ctx context.Context, ax *axis, scope Scope, ascending bool) ([]bucket, error) {
	switch ax.group {
	case GroupDay, GroupMonth, GroupYear, GroupCustomDay, GroupCustomMonth, GroupCustomYear:
		return c.unitBuckets(ctx, ax, scope, ascending)
	case GroupRange, GroupCustomRange:
		return c.rangeBuckets(ctx, ax, scope, ascending)
	case GroupFK:
		return c.fkBuckets(ctx, ax, scope)
	case GroupChoice:
		return choiceBuckets(ax.cell, ax.attr.Choices), nil
	case GroupCustomChoice:
		return choiceBuckets(ax.cell, ax.custom.Choices), nil
	case GroupRelation:
		return c.relationBuckets(ctx, ax, scope)
	}
	return nil, fmt.Errorf("group kind %s has no bucketing", ax.group)
}

// unitBuckets: one bucket per calendar unit present in the scope.
func (c *Charter) unitBuckets(ctx context.Context, ax *axis, scope Scope, ascending bool) ([]bucket, error) {
	units, err := c.env.Store.DateUnits(ctx, scope, ax.cell, ax.unit, ascending)
	if err != nil {
		return nil, fmt.Errorf("date units of %s: %w", ax.cell, err)
	}
	out := make([]bucket, 0, len(units))
	for _, t := range units {
		out = append(out, bucket{
			label: c.dates.Label(ax.unit, t),
			conditions: []Condition{{
				Cell:   ax.cell,
				Op:     ax.unit.Operator(),
				Values: []string{ax.unit.Key(t)},
			}},
		})
	}
	return out, nil
}

// rangeBuckets: fixed windows of days over the observed span.
func (c *Charter) rangeBuckets(ctx context.Context, ax *axis, scope Scope, ascending bool) ([]bucket, error) {
	lo, hi, ok, err := c.env.Store.DateBounds(ctx, scope, ax.cell)
	if err != nil {
		return nil, fmt.Errorf("date bounds of %s: %w", ax.cell, err)
	}
	if !ok {
		return nil, nil
	}
	ranges := DateRanges(lo, hi, ax.days, ascending)
	out := make([]bucket, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, bucket{
			label: c.dates.RangeLabel(r),
			conditions: []Condition{{
				Cell:   ax.cell,
				Op:     OpRange,
				Values: []string{r.Start.Format(schema.DateLayout), r.End.Format(schema.DateLayout)},
			}},
		})
	}
	return out, nil
}

// fkBuckets: one bucket per entry of the target type, in store order, empty
// buckets included.
func (c *Charter) fkBuckets(ctx context.Context, ax *axis, scope Scope) ([]bucket, error) {
	entries, err := collect(ctx, c.env.Store, Scope{EntityType: ax.attr.Target, User: scope.User})
	if err != nil {
		return nil, fmt.Errorf("entries of %s: %w", ax.attr.Target, err)
	}
	out := make([]bucket, 0, len(entries))
	for _, e := range entries {
		out = append(out, bucket{
			label:      e.String(),
			conditions: []Condition{{Cell: ax.cell, Op: OpEqual, Values: []string{e.ID}}},
		})
	}
	return out, nil
}

// choiceBuckets: one bucket per declared choice, in declared order.
func choiceBuckets(cell ColumnRef, choices []schema.Choice) []bucket {
	out := make([]bucket, 0, len(choices))
	for _, ch := range choices {
		label := ch.Label
		if label == "" {
			label = ch.Value
		}
		out = append(out, bucket{
			label:      label,
			conditions: []Condition{{Cell: cell, Op: OpEqual, Values: []string{ch.Value}}},
		})
	}
	return out
}

// relationBuckets: only objects actually related to the scope, and only the
// ones the user may view.
func (c *Charter) relationBuckets(ctx context.Context, ax *axis, scope Scope) ([]bucket, error) {
	objects, err := c.env.Store.RelatedObjects(ctx, scope, ax.relation.Key)
	if err != nil {
		return nil, fmt.Errorf("related objects of %s: %w", ax.relation.Key, err)
	}
	out := make([]bucket, 0, len(objects))
	for _, o := range objects {
		if !c.env.canView(scope.User, o) {
			continue
		}
		out = append(out, bucket{
			label:      o.String(),
			conditions: []Condition{{Cell: ax.cell, Op: OpEqual, Values: []string{o.ID}}},
		})
	}
	return out, nil
}
