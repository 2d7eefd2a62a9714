package books

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The accounting period unit
// =============================================================================

// Month identifies one calendar month. Periods and snapshots are keyed by it.
type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month { return Month{Year: year, Month: month} }

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month { return Month{Year: t.Year(), Month: t.Month()} }

// ParseMonth validates a (month, year) pair as supplied by callers.
func ParseMonth(month, year int) (Month, error) {
	if month < 1 || month > 12 {
		return Month{}, &ValidationError{Field: "month", Message: fmt.Sprintf("must be 1-12, got %d", month)}
	}
	if year < 1900 || year > 9999 {
		return Month{}, &ValidationError{Field: "year", Message: fmt.Sprintf("out of range: %d", year)}
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// First returns midnight UTC of the first day of the month.
func (m Month) First() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// LastDay returns midnight UTC of the last day of the month.
func (m Month) LastDay() time.Time { return m.Next().First().AddDate(0, 0, -1) }

func (m Month) Next() Month { return MonthOf(m.First().AddDate(0, 1, 0)) }
func (m Month) Prev() Month { return MonthOf(m.First().AddDate(0, -1, 0)) }

func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }

func (m Month) Before(o Month) bool { return m.index() < o.index() }
func (m Month) After(o Month) bool  { return m.index() > o.index() }
func (m Month) Equal(o Month) bool  { return m.index() == o.index() }

// Contains reports whether t falls inside the month.
func (m Month) Contains(t time.Time) bool { return MonthOf(t.UTC()).Equal(m) }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// MonthsBetween lists every month in [from, to], inclusive.
func MonthsBetween(from, to Month) []Month {
	var months []Month
	for m := from; !m.After(to); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// Later returns the later of two months.
func Later(a, b Month) Month {
	if a.After(b) {
		return a
	}
	return b
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date is shorthand for midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
