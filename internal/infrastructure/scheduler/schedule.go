package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule accepts "@every <duration>", "@hourly", "@daily" or a
// five-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, fmt.Errorf("empty schedule")
	case strings.HasPrefix(spec, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
		}
		return Every(d)
	case spec == "@hourly":
		return ParseCron("0 * * * *")
	case spec == "@daily":
		return ParseCron("0 0 * * *")
	default:
		return ParseCron(spec)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule fires at a fixed interval after the previous activation.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every returns an IntervalSchedule. Intervals below one second are rejected.
func Every(d time.Duration) (*IntervalSchedule, error) {
	if d < time.Second {
		return nil, fmt.Errorf("interval %s is below 1s", d)
	}
	return &IntervalSchedule{Interval: d}, nil
}

// Next implements Schedule.
func (s *IntervalSchedule) Next(t time.Time) time.Time { return t.Add(s.Interval) }

// String implements Schedule.
func (s *IntervalSchedule) String() string { return "@every " + s.Interval.String() }

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule is a parsed "minute hour day month weekday" expression.
// Each field supports *, n, n-m, */s, n-m/s and comma lists.
type CronSchedule struct {
	raw     string
	minute  uint64
	hour    uint64
	day     uint64
	month   uint64
	weekday uint64
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var sets [5]uint64
	for i, f := range fields {
		set, err := cronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("cron %q field %d: %w", expr, i+1, err)
		}
		sets[i] = set
	}
	return &CronSchedule{
		raw:     expr,
		minute:  sets[0],
		hour:    sets[1],
		day:     sets[2],
		month:   sets[3],
		weekday: sets[4],
	}, nil
}

func cronField(field string, lo, hi int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range %q", rng)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range %q", rng)
			}
		default:
			n, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rng)
			}
			start = n
			if !hasStep {
				end = n
			}
		}
		if start < lo || end > hi || start > end {
			return 0, fmt.Errorf("%q outside [%d-%d]", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within a year.
func (c *CronSchedule) Next(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, t.Location())
	for limit := t.AddDate(1, 0, 0); t.Before(limit); {
		switch {
		case c.month&(1<<uint(t.Month())) == 0:
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case c.day&(1<<uint(t.Day())) == 0 || c.weekday&(1<<uint(t.Weekday())) == 0:
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case c.hour&(1<<uint(t.Hour())) == 0:
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case c.minute&(1<<uint(t.Minute())) == 0:
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

// String implements Schedule.
func (c *CronSchedule) String() string { return c.raw }
