package engine

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// ============================================================================
// DATES — Calendar units, day ranges and locale-aware labels
// ============================================================================

// DateUnit is the granularity of a date bucket.
type DateUnit int

const (
	UnitDay DateUnit = iota + 1
	UnitMonth
	UnitYear
)

// Operator returns the condition operator matching one unit.
func (u DateUnit) Operator() Operator {
	switch u {
	case UnitYear:
		return OpYear
	case UnitMonth:
		return OpMonth
	default:
		return OpDay
	}
}

// Key returns the condition value of the unit containing t: "2024",
// "2024-03" or "2024-03-05".
func (u DateUnit) Key(t time.Time) string {
	switch u {
	case UnitYear:
		return strconv.Itoa(t.Year())
	case UnitMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Truncate returns the first day of the unit containing t, in UTC.
func (u DateUnit) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch u {
	case UnitYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case UnitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// ============================================================================
// DAY RANGES
// ============================================================================

// DateRange is a window of whole days, both ends included.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of days in the window.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// DateRanges partitions [lo, hi] into windows of days. Ascending windows
// start at lo and the last one is cut at hi; descending windows end at hi
// and the last one is cut at lo. The two orders generally produce different
// boundaries.
func DateRanges(lo, hi time.Time, days int, ascending bool) []DateRange {
	lo, hi = UnitDay.Truncate(lo), UnitDay.Truncate(hi)
	if days <= 0 || hi.Before(lo) {
		return nil
	}

	var out []DateRange
	if ascending {
		for start := lo; !start.After(hi); start = start.AddDate(0, 0, days) {
			end := start.AddDate(0, 0, days-1)
			if end.After(hi) {
				end = hi
			}
			out = append(out, DateRange{Start: start, End: end})
		}
		return out
	}

	for end := hi; !end.Before(lo); end = end.AddDate(0, 0, -days) {
		start := end.AddDate(0, 0, -(days - 1))
		if start.Before(lo) {
			start = lo
		}
		out = append(out, DateRange{Start: start, End: end})
	}
	return out
}

// ============================================================================
// LABELS
// ============================================================================

var dateLocales = language.NewMatcher([]language.Tag{
	language.English,
	language.French,
	language.German,
	language.Spanish,
})

type dateLocale struct {
	months    [12]string
	dayLayout string
}

var dateLocaleData = map[string]dateLocale{
	"en": {
		months:    [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		dayLayout: "01/02/2006",
	},
	"fr": {
		months:    [12]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		dayLayout: "02/01/2006",
	},
	"de": {
		months:    [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
		dayLayout: "02.01.2006",
	},
	"es": {
		months:    [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		dayLayout: "02/01/2006",
	},
}

// DateFormatter renders bucket labels for one locale.
type DateFormatter struct {
	locale dateLocale
}

// NewDateFormatter picks the closest supported locale, English by default.
func NewDateFormatter(tag language.Tag) *DateFormatter {
	_, idx, _ := dateLocales.Match(tag)
	keys := []string{"en", "fr", "de", "es"}
	return &DateFormatter{locale: dateLocaleData[keys[idx]]}
}

// Label renders the unit containing t: "2024", "March 2024", "03/05/2024".
func (f *DateFormatter) Label(unit DateUnit, t time.Time) string {
	switch unit {
	case UnitYear:
		return strconv.Itoa(t.Year())
	case UnitMonth:
		return fmt.Sprintf("%s %d", f.locale.months[t.Month()-1], t.Year())
	default:
		return f.Day(t)
	}
}

// Day renders a single day.
func (f *DateFormatter) Day(t time.Time) string {
	return t.Format(f.locale.dayLayout)
}

// RangeLabel renders a day window.
func (f *DateFormatter) RangeLabel(r DateRange) string {
	return f.Day(r.Start) + " - " + f.Day(r.End)
}
