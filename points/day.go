package points

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Civil date, independent of the clock's zone
// =============================================================================

const dayLayout = "2006-01-02"

// Day is a calendar date. The underlying time is always midnight UTC so two
// Days compare equal iff they name the same date.
type Day struct {
	t time.Time
}

// NewDay builds a Day from its parts. Out-of-range parts normalize like time.Date.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return NewDay(lt.Year(), lt.Month(), lt.Day())
}

// ParseDay parses "YYYY-MM-DD".
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

// Comparison
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }
func (d Day) IsZero() bool      { return d.t.IsZero() }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Day) Year() int             { return d.t.Year() }
func (d Day) Month() time.Month     { return d.t.Month() }
func (d Day) Day() int              { return d.t.Day() }
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }
func (d Day) String() string        { return d.t.Format(dayLayout) }

// Start returns midnight of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek returns the Monday of d's week.
func (d Day) StartOfWeek() Day {
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	return d.AddDays(-offset)
}

// StartOfMonth returns the first day of d's month.
func (d Day) StartOfMonth() Day { return NewDay(d.Year(), d.Month(), 1) }

// DaysInMonth returns the number of days in d's month.
func (d Day) DaysInMonth() int {
	return NewDay(d.Year(), d.Month()+1, 1).AddDays(-1).Day()
}

// DaysBetween returns the whole days from a to b (negative when b is earlier).
func DaysBetween(a, b Day) int {
	return int(b.t.Sub(a.t).Hours() / 24)
}

// MarshalText encodes the day as YYYY-MM-DD.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes YYYY-MM-DD.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
