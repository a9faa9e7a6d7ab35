// Package followup classifies vendor follow-up deadlines. Everything here is a
// pure function of its inputs; "today" is always passed in by the caller.
package followup

import (
	"strconv"
	"strings"
	"time"
)

// Date is a calendar date with no time-of-day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date, normalizing out-of-range days the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate reads the leading YYYY-MM-DD of s. Date-only and date-time strings
// yield the same calendar date; the time and any zone suffix are ignored so the
// date never shifts across midnight.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return Date{}, false
	}
	if len(s) > 10 {
		if c := s[10]; c != 'T' && c != 't' && c != ' ' {
			return Date{}, false
		}
	}
	if s[4] != '-' || s[7] != '-' {
		return Date{}, false
	}
	y, err := strconv.Atoi(s[0:4])
	if err != nil {
		return Date{}, false
	}
	m, err := strconv.Atoi(s[5:7])
	if err != nil || m < 1 || m > 12 {
		return Date{}, false
	}
	d, err := strconv.Atoi(s[8:10])
	if err != nil || d < 1 {
		return Date{}, false
	}
	out := NewDate(y, time.Month(m), d)
	if out.Day != d {
		// 2024-02-30 and friends
		return Date{}, false
	}
	return out, true
}

// ParseDatePtr parses an optional collaborator date. Missing or unparsable
// values return nil.
func ParseDatePtr(s *string) *Date {
	if s == nil {
		return nil
	}
	d, ok := ParseDate(*s)
	if !ok {
		return nil
	}
	return &d
}

// MustParseDate panics on malformed input. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, ok := ParseDate(s)
	if !ok {
		panic("followup: invalid date " + strconv.Quote(s))
	}
	return d
}

// midnight anchors the date in UTC so day arithmetic is immune to DST.
func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Time returns local midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// DaysUntil returns other - d in whole calendar days.
func (d Date) DaysUntil(other Date) int {
	return int(other.midnight().Sub(d.midnight()).Hours() / 24)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight().AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday { return d.midnight().Weekday() }

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int {
	a, b := d.midnight().Unix(), other.midnight().Unix()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) Equal(other Date) bool  { return d.Compare(other) == 0 }

// String formats as YYYY-MM-DD.
func (d Date) String() string {
	return d.midnight().Format(time.DateOnly)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, ok := ParseDate(string(b))
	if !ok {
		return &time.ParseError{Layout: time.DateOnly, Value: string(b), Message: ": invalid calendar date"}
	}
	*d = parsed
	return nil
}
