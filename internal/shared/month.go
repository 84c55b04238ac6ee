package shared

import (
	"errors"
	"time"
)

// Month is a billing month in YYYY-MM form. Sheets, expenses, and receipts
// are all keyed by it.
type Month string

// ErrInvalidMonth indicates a month key that does not parse as YYYY-MM.
var ErrInvalidMonth = errors.New("invalid month, expected YYYY-MM")

const monthLayout = "2006-01"

// ParseMonth validates and normalises a YYYY-MM key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return "", ErrInvalidMonth
	}
	return Month(t.Format(monthLayout)), nil
}

// Time returns the first day of the month in UTC.
func (m Month) Time() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

// Next returns the following month.
func (m Month) Next() Month {
	return Month(m.Time().AddDate(0, 1, 0).Format(monthLayout))
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return Month(m.Time().AddDate(0, -1, 0).Format(monthLayout))
}

// Before reports whether m is strictly earlier than other. YYYY-MM keys
// order lexicographically.
func (m Month) Before(other Month) bool {
	return string(m) < string(other)
}

func (m Month) String() string {
	return string(m)
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month(t.UTC().Format(monthLayout))
}
