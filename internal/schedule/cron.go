package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/driplabs/drip-api/internal/model"
)

// Field domains, cron convention: day of week 0 is Sunday, which matches
// Go's time.Weekday numbering so no conversion happens at the boundary.
const (
	minMinute, maxMinute = 0, 59
	minHour, maxHour     = 0, 23
	minDOW, maxDOW       = 0, 6
	minDOM, maxDOM       = 1, 31
	minMonth, maxMonth   = 1, 12
)

// Expr is a parsed schedule: for each cron field, the sorted set of
// values it permits. An Expr is immutable and safe for concurrent use.
type Expr struct {
	minutes   fieldSet
	hours     fieldSet
	weekdays  fieldSet
	monthDays fieldSet
	months    fieldSet
}

type fieldSet struct {
	values []int
	member map[int]struct{}
}

func (f fieldSet) contains(v int) bool {
	_, ok := f.member[v]
	return ok
}

// Parse validates the five fields of a schedule and returns the
// evaluator for it.
func Parse(s *model.Schedule) (*Expr, error) {
	minutes, err := parseField(s.Minute, "minute", minMinute, maxMinute)
	if err != nil {
		return nil, err
	}
	hours, err := parseField(s.Hour, "hour", minHour, maxHour)
	if err != nil {
		return nil, err
	}
	weekdays, err := parseField(s.DayOfWeek, "day_of_week", minDOW, maxDOW)
	if err != nil {
		return nil, err
	}
	monthDays, err := parseField(s.DayOfMonth, "day_of_month", minDOM, maxDOM)
	if err != nil {
		return nil, err
	}
	months, err := parseField(s.MonthOfYear, "month_of_year", minMonth, maxMonth)
	if err != nil {
		return nil, err
	}

	return &Expr{
		minutes:   minutes,
		hours:     hours,
		weekdays:  weekdays,
		monthDays: monthDays,
		months:    months,
	}, nil
}

// parseField expands "*", numbers, ranges and comma lists into the set of
// permitted values for one field.
func parseField(raw, name string, lo, hi int) (fieldSet, error) {
	fs := fieldSet{member: make(map[int]struct{})}

	add := func(v int) {
		if _, ok := fs.member[v]; !ok {
			fs.member[v] = struct{}{}
			fs.values = append(fs.values, v)
		}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		for v := lo; v <= hi; v++ {
			add(v)
		}
		return fs, nil
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err := parseValue(from, name, lo, hi)
			if err != nil {
				return fs, err
			}
			b, err := parseValue(to, name, lo, hi)
			if err != nil {
				return fs, err
			}
			if a > b {
				return fs, fmt.Errorf("invalid %s range %q: start after end", name, part)
			}
			for v := a; v <= b; v++ {
				add(v)
			}
			continue
		}
		v, err := parseValue(part, name, lo, hi)
		if err != nil {
			return fs, err
		}
		add(v)
	}

	sort.Ints(fs.values)
	return fs, nil
}

func parseValue(raw, name string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", name, raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s value %d out of range %d-%d", name, v, lo, hi)
	}
	return v, nil
}

// CronString renders a schedule in conventional cron order:
// minute, hour, day of month, month, day of week. Day-of-month and
// day-of-week are swapped relative to the field declaration order;
// downstream cron consumers depend on this.
func CronString(s *model.Schedule) string {
	f := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "*"
		}
		return v
	}
	return fmt.Sprintf("%s %s %s %s %s",
		f(s.Minute), f(s.Hour), f(s.DayOfMonth), f(s.MonthOfYear), f(s.DayOfWeek))
}

func (e *Expr) dayMatches(day time.Time) bool {
	return e.months.contains(int(day.Month())) &&
		e.monthDays.contains(day.Day()) &&
		e.weekdays.contains(int(day.Weekday()))
}

// Iterator lazily enumerates the occurrences of an Expr within the
// half-open interval (start, end], in strictly ascending order at minute
// granularity. It is purely a function of (expr, start, end): the same
// inputs always replay the same sequence.
type Iterator struct {
	expr    *Expr
	start   time.Time
	end     time.Time
	day     time.Time
	pending []time.Time
	idx     int
}

// Iterate returns an iterator over (start, end]. Timestamps are
// normalized to UTC.
func (e *Expr) Iterate(start, end time.Time) *Iterator {
	start = start.UTC()
	end = end.UTC()
	return &Iterator{
		expr:  e,
		start: start,
		end:   end,
		day:   time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// Next returns the next occurrence, or false when the interval is
// exhausted.
func (it *Iterator) Next() (time.Time, bool) {
	for it.idx >= len(it.pending) {
		if it.day.After(it.end) {
			return time.Time{}, false
		}
		it.fillDay()
		it.day = it.day.AddDate(0, 0, 1)
	}
	t := it.pending[it.idx]
	it.idx++
	return t, true
}

func (it *Iterator) fillDay() {
	it.pending = it.pending[:0]
	it.idx = 0
	if !it.expr.dayMatches(it.day) {
		return
	}
	for _, h := range it.expr.hours.values {
		for _, m := range it.expr.minutes.values {
			t := it.day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
			if t.After(it.start) && !t.After(it.end) {
				it.pending = append(it.pending, t)
			}
		}
	}
}

// RunTimesBetween materializes every occurrence in (start, end]. An
// empty interval yields an empty slice, never an error.
func (e *Expr) RunTimesBetween(start, end time.Time) []time.Time {
	var times []time.Time
	it := e.Iterate(start, end)
	for {
		t, ok := it.Next()
		if !ok {
			return times
		}
		times = append(times, t)
	}
}

// CountBetween is RunTimesBetween without materializing the sequence.
func (e *Expr) CountBetween(start, end time.Time) int {
	n := 0
	it := e.Iterate(start, end)
	for {
		if _, ok := it.Next(); !ok {
			return n
		}
		n++
	}
}

// nextAfterHorizon bounds the NextAfter scan. Eight years covers the
// sparsest expressible schedule (a leap-day occurrence).
const nextAfterHorizon = 8 * 365 * 24 * time.Hour

// NextAfter returns the first occurrence strictly after t, or false if
// none exists within the scan horizon.
func (e *Expr) NextAfter(t time.Time) (time.Time, bool) {
	return e.Iterate(t, t.Add(nextAfterHorizon)).Next()
}

// RunTimesBetween parses a schedule and enumerates its occurrences in
// (start, end].
func RunTimesBetween(s *model.Schedule, start, end time.Time) ([]time.Time, error) {
	expr, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return expr.RunTimesBetween(start, end), nil
}
