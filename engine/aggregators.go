package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================================
// AGGREGATORS — Aggregation table and decimal arithmetic
// ============================================================================
// Aggregations are a closed set. Stores collect the values of a cell over a
// scope and reduce them with AggregateValues, so every store computes the
// same result for the same values.
// ============================================================================

// Aggregation describes one aggregation id.
type Aggregation struct {
	ID        string
	Label     string
	NeedsCell bool // false only for count
}

var aggregations = []Aggregation{
	{ID: "count", Label: "Count"},
	{ID: "sum", Label: "Sum", NeedsCell: true},
	{ID: "avg", Label: "Average", NeedsCell: true},
	{ID: "min", Label: "Minimum", NeedsCell: true},
	{ID: "max", Label: "Maximum", NeedsCell: true},
}

// Aggregations returns the known aggregations in display order.
func Aggregations() []Aggregation {
	out := make([]Aggregation, len(aggregations))
	copy(out, aggregations)
	return out
}

// LookupAggregation returns the aggregation with the given id.
func LookupAggregation(id string) (Aggregation, bool) {
	for _, a := range aggregations {
		if a.ID == id {
			return a, true
		}
	}
	return Aggregation{}, false
}

// LabelForAggregation returns a human-readable label for an aggregation id.
func LabelForAggregation(id string) string {
	if a, ok := LookupAggregation(id); ok {
		return a.Label
	}
	return "Value"
}

// AggregateValues reduces values. An empty input gives zero for every
// aggregation.
func AggregateValues(aggregation string, values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	switch aggregation {
	case "count":
		return decimal.NewFromInt(int64(len(values)))
	case "sum":
		return decimal.Sum(values[0], values[1:]...)
	case "avg":
		return decimal.Avg(values[0], values[1:]...)
	case "min":
		return decimal.Min(values[0], values[1:]...)
	case "max":
		return decimal.Max(values[0], values[1:]...)
	default:
		return decimal.Zero
	}
}

// FormatAggregate renders an aggregate for display. Averages keep two
// decimals.
func FormatAggregate(aggregation string, d decimal.Decimal) string {
	if aggregation == "avg" {
		return RoundTo2(d).String()
	}
	return d.String()
}

// RoundTo2 rounds to 2 decimal places.
func RoundTo2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToDecimal converts a decoded field value to a decimal. Text is parsed;
// anything else non-numeric is rejected.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case int64:
		return decimal.NewFromInt(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt32(val), true
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
