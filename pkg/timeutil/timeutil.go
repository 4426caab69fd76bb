// Package timeutil parses the time windows used by analyses: request
// parameters (RFC3339 or plain dates) and day boundaries in the school's timezone.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLocation is the school timezone (UTC+5, no DST).
var DefaultLocation = time.FixedZone("Asia/Almaty", 5*60*60)

// DateLayout is the plain date layout accepted in query parameters.
const DateLayout = "2006-01-02"

// LoadLocation resolves an IANA name, falling back to DefaultLocation for "".
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return DefaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// StartOfDay returns 00:00:00 of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of t's day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseBound parses a range bound. RFC3339 values are taken as is; a plain
// date is expanded to the start of that day, or to its end when end is true.
// An empty value yields the zero time.
func ParseBound(value string, end bool, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: %q is neither RFC3339 nor %s", value, DateLayout)
	}
	if end {
		return EndOfDay(d, loc), nil
	}
	return d, nil
}

// ParseRange parses both bounds. Either both are empty or both are set.
func ParseRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	f, err := ParseBound(from, false, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := ParseBound(to, true, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if f.IsZero() != t.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("timeutil: both from and to are required")
	}
	if !f.IsZero() && f.After(t) {
		return time.Time{}, time.Time{}, fmt.Errorf("timeutil: from %s is after to %s", from, to)
	}
	return f, t, nil
}
