package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
)

// ============================================================================
// VALUE CODEC — Canonical text form of typed attribute values
// ============================================================================
// Stores keep values as text; ParseValue turns that text into the Go value the
// engine expects for the kind, FormatValue does the reverse. Date text is
// canonical ISO so stores can compare prefixes ("2024", "2024-03").
// ============================================================================

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = time.RFC3339

	// MultiSeparator separates items of multi-valued fields in text form.
	MultiSeparator = ";"
)

// ParseValue decodes raw text into the Go value for kind:
//
//	text, choice, reference     -> string
//	integer                     -> int64
//	decimal                     -> decimal.Decimal
//	bool                        -> bool
//	date, datetime              -> time.Time (UTC)
//	multi_choice, multi_reference -> []string
//
// Empty text decodes to nil.
func ParseValue(kind ValueKind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	switch kind {
	case KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", raw, err)
		}
		return n, nil
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", raw, err)
		}
		return d, nil
	case KindBool:
		return parseBool(raw)
	case KindDate:
		t, err := ParseTime(raw)
		if err != nil {
			return nil, err
		}
		return truncateDay(t), nil
	case KindDateTime:
		return ParseTime(raw)
	case KindMultiChoice, KindMultiReference:
		var items []string
		for _, part := range strings.Split(raw, MultiSeparator) {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	default:
		return raw, nil
	}
}

// FormatValue encodes a typed value into its canonical text form.
func FormatValue(kind ValueKind, v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, MultiSeparator)
	case time.Time:
		if kind == KindDate {
			return val.UTC().Format(DateLayout)
		}
		return val.UTC().Format(DateTimeLayout)
	case decimal.Decimal:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// ParseTime accepts ISO dates and the many layouts found in exported
// spreadsheets ("03/05/2024", "Mar 5, 2024").
func ParseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// AsTime extracts a time from a decoded value.
func AsTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		t, err := ParseTime(val)
		return t, err == nil
	}
	return time.Time{}, false
}

// AsStrings extracts the items of a single- or multi-valued field.
func AsStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	default:
		return []string{FormatValue(KindText, val)}
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "y", "oui", "ja", "si":
		return true, nil
	case "no", "n", "non", "nein":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse bool %q: %w", raw, err)
	}
	return b, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
