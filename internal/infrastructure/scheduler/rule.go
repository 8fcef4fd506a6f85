package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// Rule decides when a trigger fires next. Spec is a canonical rendering used
// to compare rules across refreshes.
type Rule interface {
	cron.Schedule
	Spec() string
}

// IntervalRule fires every Every after the previous activation.
type IntervalRule struct {
	Every time.Duration
}

func (r IntervalRule) Next(t time.Time) time.Time {
	return t.Add(r.Every)
}

func (r IntervalRule) Spec() string {
	return "@every " + r.Every.String()
}

// Any marks an unrestricted cron field.
const Any = -1

// CronRule is a five-field cron rule where every field is either a single
// value or Any.
type CronRule struct {
	Minute     int
	Hour       int
	DayOfMonth int
	Month      int
	DayOfWeek  int
}

type fieldBounds struct {
	name     string
	min, max int
}

var cronFields = [5]fieldBounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses "minute hour day-of-month month day-of-week" where each
// field is a non-negative integer or "*".
func ParseCron(expr string) (CronRule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return CronRule{}, fmt.Errorf("%w %q: expected %d fields, got %d", ErrInvalidCron, expr, len(cronFields), len(parts))
	}

	var values [5]int
	for i, part := range parts {
		if part == "*" {
			values[i] = Any
			continue
		}

		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || strings.HasPrefix(part, "+") {
			return CronRule{}, fmt.Errorf("%w %q: %s field %q is not a number or *", ErrInvalidCron, expr, cronFields[i].name, part)
		}
		if n < cronFields[i].min || n > cronFields[i].max {
			return CronRule{}, fmt.Errorf("%w %q: %s %d out of range %d-%d",
				ErrInvalidCron, expr, cronFields[i].name, n, cronFields[i].min, cronFields[i].max)
		}
		values[i] = n
	}

	return CronRule{
		Minute:     values[0],
		Hour:       values[1],
		DayOfMonth: values[2],
		Month:      values[3],
		DayOfWeek:  values[4],
	}, nil
}

func matches(field, value int) bool {
	return field == Any || field == value
}

// Next returns the first minute strictly after t that satisfies every field.
// When both day fields are restricted, both must match. A rule that can never
// fire (e.g. February 31st) yields the zero time, which the cron engine treats
// as "never".
func (r CronRule) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !matches(r.Month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !matches(r.DayOfMonth, t.Day()) || !matches(r.DayOfWeek, int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !matches(r.Hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !matches(r.Minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

func (r CronRule) Spec() string {
	fields := []int{r.Minute, r.Hour, r.DayOfMonth, r.Month, r.DayOfWeek}
	out := make([]string, len(fields))
	for i, f := range fields {
		if f == Any {
			out[i] = "*"
		} else {
			out[i] = strconv.Itoa(f)
		}
	}
	return strings.Join(out, " ")
}
