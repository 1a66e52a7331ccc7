// Package datetime holds the timezone arithmetic used by scheduling and
// recurrence. Every function takes the reference instant explicitly, so
// results depend only on the arguments.
package datetime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is a calendar interval unit.
type Unit string

const (
	Day   Unit = "DAY"
	Week  Unit = "WEEK"
	Month Unit = "MONTH"
)

// DateKeyLayout formats the local calendar date used as a per-day marker.
const DateKeyLayout = "2006-01-02"

const minutesPerDay = 24 * 60

func (u Unit) Valid() bool {
	switch u {
	case Day, Week, Month:
		return true
	}
	return false
}

func ParseUnit(raw string) (Unit, error) {
	u := Unit(strings.ToUpper(strings.TrimSpace(raw)))
	if !u.Valid() {
		return "", fmt.Errorf("invalid interval unit %q", raw)
	}
	return u, nil
}

// Clock is a wall-clock time of day without a date.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (leading zero optional).
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return Clock{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// MustClock is ParseClock for constants.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Minutes returns minutes since local midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// LocalNow returns now as wall-clock fields in loc.
func LocalNow(loc *time.Location, now time.Time) time.Time {
	return now.In(loc)
}

// MinutesOfDay returns the local minutes since midnight of t in loc.
func MinutesOfDay(t time.Time, loc *time.Location) int {
	l := t.In(loc)
	return l.Hour()*60 + l.Minute()
}

// DateKey identifies the local calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateKeyLayout)
}

// StartOfLocalDay returns the UTC instant of local midnight of the day containing t.
func StartOfLocalDay(loc *time.Location, t time.Time) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc).UTC()
}

// EndOfLocalDay returns the last representable UTC instant before the next
// local midnight. The span from StartOfLocalDay is 23h or 25h on DST days.
func EndOfLocalDay(loc *time.Location, t time.Time) time.Time {
	l := t.In(loc)
	next := time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, loc)
	return next.Add(-time.Nanosecond).UTC()
}

// IsWithinLocalWindow reports whether t falls in [from, to) local time.
// When from > to the window wraps midnight (22:00-09:00). from == to is empty.
func IsWithinLocalWindow(t time.Time, loc *time.Location, from, to Clock) bool {
	m := MinutesOfDay(t, loc)
	f, e := from.Minutes(), to.Minutes()
	if f > e {
		return m >= f || m < e
	}
	return m >= f && m < e
}

// MinutesSince returns how many minutes cur is past target on a 24h dial,
// so 00:01 is one minute past 00:00 and 00:00 is one minute past 23:59.
func MinutesSince(cur, target int) int {
	return ((cur-target)%minutesPerDay + minutesPerDay) % minutesPerDay
}

// AddCalendarInterval shifts t by n units on the local calendar of loc,
// keeping the local wall-clock time. Adding months clamps the day to the
// last valid day of the target month: Jan 31 + 1 month is Feb 28 (or 29).
func AddCalendarInterval(t time.Time, n int, unit Unit, loc *time.Location) time.Time {
	l := t.In(loc)
	y, m, d := l.Date()
	hh, mm, ss := l.Clock()
	ns := l.Nanosecond()

	switch unit {
	case Day:
		return time.Date(y, m, d+n, hh, mm, ss, ns, loc).UTC()
	case Week:
		return time.Date(y, m, d+7*n, hh, mm, ss, ns, loc).UTC()
	case Month:
		first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, loc)
		ty, tm := first.Year(), first.Month()
		if last := DaysInMonth(ty, tm); d > last {
			d = last
		}
		return time.Date(ty, tm, d, hh, mm, ss, ns, loc).UTC()
	default:
		return t.UTC()
	}
}

// LocalTimeToday returns the UTC instant of clock c on the local day of now
// in loc, shifted by dayOffset days.
func LocalTimeToday(loc *time.Location, now time.Time, c Clock, dayOffset int) time.Time {
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day()+dayOffset, c.Hour, c.Minute, 0, 0, loc).UTC()
}

// DaysInMonth returns the number of days in month of year.
func DaysInMonth(year int, month time.Month) int {
	// Move to next month, roll back a day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
