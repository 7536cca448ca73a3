package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// ============================================================================
// AUTO-DISCOVERY — Entity type inference from CSV
// ============================================================================
// Inspects a CSV export and builds an EntityType whose attributes match the
// columns. Used when a data file is loaded for a type the configuration does
// not declare.
//
// Classification pipeline per column:
//   1. Skip built-ins (id, name, owner) and custom-field columns ("custom:<id>")
//   2. Sample values → detect kind (integer, decimal, bool, date, datetime, text)
//   3. Low-cardinality text → choice attribute with choices in first-seen order
// ============================================================================

// CustomColumnPrefix marks CSV columns holding custom-field values.
const CustomColumnPrefix = "custom:"

// DiscoverOptions controls discovery behavior.
type DiscoverOptions struct {
	SampleSize int    // Max rows to inspect (0 = all). Default: 1000
	MaxChoices int    // Text columns with at most this many distinct values become choices
	Key        string // Entity type key (required)
	Tracked    bool
}

// DefaultDiscoverOptions returns sensible defaults.
func DefaultDiscoverOptions(key string) DiscoverOptions {
	return DiscoverOptions{
		SampleSize: 1000,
		MaxChoices: 12,
		Key:        key,
		Tracked:    true,
	}
}

// DiscoverFromCSV builds an EntityType by inspecting CSV data.
func DiscoverFromCSV(data []byte, opt DiscoverOptions) (*EntityType, error) {
	if opt.Key == "" {
		return nil, errors.New("entity type key is required")
	}

	reader := csv.NewReader(strings.NewReader(string(data)))

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	limit := opt.SampleSize
	if limit <= 0 {
		limit = 100000 // safety cap
	}

	var rows [][]string
	for len(rows) < limit {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		rows = append(rows, row)
	}

	et := &EntityType{
		Key:         opt.Key,
		DisplayName: LabelForKey(opt.Key),
		Tracked:     opt.Tracked,
	}

	for i, header := range headers {
		header = strings.TrimSpace(header)
		key := ToSnakeCase(header)
		if strings.HasPrefix(header, CustomColumnPrefix) || isBuiltin(key) {
			continue
		}
		col := analyzeColumn(header, i, rows)
		et.Attributes = append(et.Attributes, col.toAttribute(opt.MaxChoices))
	}

	return et, nil
}

// ============================================================================
// COLUMN ANALYSIS
// ============================================================================

type columnAnalysis struct {
	header string
	key    string
	kind   ValueKind

	ordered []string // distinct values, first-seen order
	unique  map[string]bool
	values  int
}

// analyzeColumn inspects all values in a column and classifies it.
func analyzeColumn(header string, index int, rows [][]string) columnAnalysis {
	col := columnAnalysis{
		header: header,
		key:    ToSnakeCase(header),
		unique: make(map[string]bool),
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if index >= len(row) {
			continue
		}
		val := strings.TrimSpace(row[index])
		if isNull(val) {
			continue
		}
		values = append(values, val)
		if !col.unique[val] {
			col.unique[val] = true
			col.ordered = append(col.ordered, val)
		}
	}
	col.values = len(values)
	col.kind = detectKind(values)
	return col
}

func (col *columnAnalysis) toAttribute(maxChoices int) Attribute {
	attr := Attribute{
		Key:         col.key,
		DisplayName: toDisplayName(col.header),
		Kind:        col.kind,
	}

	// Repeated low-cardinality text reads as an enumeration.
	if col.kind == KindText && len(col.ordered) > 0 && len(col.ordered) <= maxChoices && len(col.ordered) < col.values {
		attr.Kind = KindChoice
		for _, v := range col.ordered {
			attr.Choices = append(attr.Choices, Choice{Value: v, Label: v})
		}
	}
	return attr
}

// ============================================================================
// TYPE DETECTION
// ============================================================================

// detectKind requires 80%+ of non-null values to match a non-text kind.
func detectKind(values []string) ValueKind {
	if len(values) == 0 {
		return KindText
	}

	var ints, decimals, bools, dates, datetimes int
	for _, v := range values {
		switch {
		case isInteger(v):
			ints++
		case isDecimal(v):
			decimals++
		}
		if isBool(v) {
			bools++
		}
		if t, ok := parseDate(v); ok {
			if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
				datetimes++
			} else {
				dates++
			}
		}
	}

	threshold := int(float64(len(values)) * 0.8)
	if threshold == 0 {
		threshold = 1
	}

	switch {
	case bools >= threshold && ints < threshold:
		return KindBool
	case dates+datetimes >= threshold && ints < threshold:
		if datetimes > 0 {
			return KindDateTime
		}
		return KindDate
	case ints >= threshold:
		return KindInteger
	case ints+decimals >= threshold:
		return KindDecimal
	}
	return KindText
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isDecimal(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

// parseDate only accepts strings that look like dates; dateparse alone would
// read bare numbers as timestamps.
func parseDate(s string) (time.Time, bool) {
	if isDecimal(s) || (!strings.ContainsAny(s, "-/.") && !strings.ContainsFunc(s, unicode.IsLetter)) {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isNull(v string) bool {
	switch v {
	case "", "null", "NULL", "N/A", "n/a":
		return true
	}
	return false
}

func isBuiltin(key string) bool {
	for _, a := range builtinAttributes {
		if a.Key == key {
			return true
		}
	}
	return false
}

// ============================================================================
// STRING UTILITIES
// ============================================================================

// ToSnakeCase converts "Column Name" or "columnName" → "column_name".
// Double underscores collapse so keys never contain the path separator.
func ToSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			prev := rune(s[i-1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				result.WriteRune('_')
			}
		}
		result.WriteRune(r)
	}

	s = strings.ToLower(result.String())
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	for strings.Contains(s, PathSeparator) {
		s = strings.ReplaceAll(s, PathSeparator, "_")
	}
	return strings.Trim(s, "_")
}

// toDisplayName cleans a header for human display.
func toDisplayName(s string) string {
	if strings.Contains(s, " ") {
		return strings.TrimSpace(s)
	}
	return LabelForKey(ToSnakeCase(s))
}
