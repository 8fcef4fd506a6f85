package domain

import (
	"context"
	"errors"
	"time"
)

type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "crontab"
)

// DefaultIntervalMinutes applies to interval schedules stored without a length.
const DefaultIntervalMinutes = 60

var ErrScheduleNotFound = errors.New("schedule not found")

type Schedule struct {
	ID              int64
	DatabaseName    string
	Kind            ScheduleKind
	IntervalMinutes *int
	CronExpression  *string
	Enabled         bool
	CreatedAt       time.Time
	LastRun         *time.Time
	NextRun         *time.Time
}

// Interval returns the firing period of an interval schedule.
func (s Schedule) Interval() time.Duration {
	minutes := DefaultIntervalMinutes
	if s.IntervalMinutes != nil && *s.IntervalMinutes > 0 {
		minutes = *s.IntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ParseScheduleKind accepts the persisted spellings of a schedule kind.
func ParseScheduleKind(s string) (ScheduleKind, bool) {
	switch s {
	case "interval":
		return ScheduleInterval, true
	case "crontab", "cron":
		return ScheduleCron, true
	default:
		return ScheduleKind(s), false
	}
}

type ScheduleStore interface {
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*Schedule, error)
	CreateSchedule(ctx context.Context, s *Schedule) error
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id int64) error
	MarkScheduleRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error
}
