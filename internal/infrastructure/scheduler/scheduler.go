package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/metrics"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type ScheduleLister interface {
	ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error)
}

// TriggerEntry is the live trigger derived from one enabled schedule.
type TriggerEntry struct {
	ScheduleID   int64
	DatabaseName string
	Rule         Rule
}

// FireFunc hands a fired trigger to the execution pool. It must not run the
// backup inline.
type FireFunc func(ctx context.Context, entry TriggerEntry, firedAt time.Time)

// Dispatcher owns the schedule id -> trigger mapping and the cron engine that
// fires it. Every Refresh rebuilds the mapping from the store and publishes it
// with a single atomic swap; firing always consults the published mapping.
type Dispatcher struct {
	store  ScheduleLister
	fire   FireFunc
	logger Logger
	cron   *cron.Cron
	ctx    context.Context

	triggers atomic.Pointer[map[int64]TriggerEntry]

	mu      sync.Mutex // serializes refreshes and guards entries
	entries map[int64]engineEntry
}

type engineEntry struct {
	id   cron.EntryID
	spec string
}

func New(store ScheduleLister, fire FireFunc, logger Logger, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger}
	d := &Dispatcher{
		store:   store,
		fire:    fire,
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[int64]engineEntry),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
	empty := map[int64]TriggerEntry{}
	d.triggers.Store(&empty)
	return d
}

// Refresh rebuilds the trigger mapping from the enabled schedules in the
// store. It is safe to call concurrently and redundantly; a failed read keeps
// the previous mapping and returns false.
//
// The store read happens under d.mu so overlapping refreshes publish in the
// order they read; a slow reader never overwrites a newer snapshot.
func (d *Dispatcher) Refresh(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	schedules, err := d.store.ListEnabledSchedules(ctx)
	if err != nil {
		d.logger.Errorf("Failed to fetch schedules: %v", err)
		metrics.ScheduleRefreshes.WithLabelValues("error").Inc()
		return false
	}

	next := Build(schedules, d.logger)

	d.triggers.Store(&next)
	changed := d.reconcile(next)

	if changed > 0 {
		d.logger.Infof("Schedule configuration changed: %d schedule(s) updated, %d active", changed, len(next))
	} else {
		d.logger.Debugf("Schedule configuration unchanged, %d active", len(next))
	}

	metrics.ScheduleRefreshes.WithLabelValues("ok").Inc()
	metrics.ActiveTriggers.Set(float64(len(next)))
	return true
}

// reconcile brings the cron engine in line with next. Entries whose rule is
// unchanged keep their engine slot so interval phases survive refreshes.
// Must be called with d.mu held.
func (d *Dispatcher) reconcile(next map[int64]TriggerEntry) int {
	changed := 0

	for id, entry := range next {
		spec := entry.Rule.Spec()
		if existing, ok := d.entries[id]; ok {
			if existing.spec == spec {
				continue
			}
			d.cron.Remove(existing.id)
		}

		scheduleID := id
		d.entries[id] = engineEntry{
			id:   d.cron.Schedule(entry.Rule, cron.FuncJob(func() { d.dispatch(scheduleID) })),
			spec: spec,
		}
		changed++
	}

	for id, existing := range d.entries {
		if _, ok := next[id]; ok {
			continue
		}
		d.cron.Remove(existing.id)
		delete(d.entries, id)
		changed++
	}

	return changed
}

func (d *Dispatcher) dispatch(scheduleID int64) {
	entry, ok := (*d.triggers.Load())[scheduleID]
	if !ok {
		return
	}

	d.logger.Infof("[%s] Trigger fired for schedule %d", entry.DatabaseName, scheduleID)
	d.fire(d.ctx, entry, time.Now())
}

// Build translates schedule rows into triggers. Rows that cannot be
// translated are logged and left out.
func Build(schedules []domain.Schedule, logger Logger) map[int64]TriggerEntry {
	set := make(map[int64]TriggerEntry, len(schedules))

	for _, s := range schedules {
		rule, err := RuleFor(s)
		if err != nil {
			logger.Errorf("Skipping schedule %d: %v", s.ID, err)
			continue
		}

		set[s.ID] = TriggerEntry{
			ScheduleID:   s.ID,
			DatabaseName: s.DatabaseName,
			Rule:         rule,
		}
		logger.Debugf("Added schedule %d for %s: %s", s.ID, s.DatabaseName, rule.Spec())
	}

	return set
}

// RuleFor derives the trigger rule of one schedule row.
func RuleFor(s domain.Schedule) (Rule, error) {
	switch s.Kind {
	case domain.ScheduleInterval:
		return IntervalRule{Every: s.Interval()}, nil
	case domain.ScheduleCron:
		if s.CronExpression == nil || *s.CronExpression == "" {
			return nil, fmt.Errorf("no cron expression")
		}
		rule, err := ParseCron(*s.CronExpression)
		if err != nil {
			return nil, err
		}
		return rule, nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.Kind)
	}
}

// ActiveTriggers returns a copy of the current mapping.
func (d *Dispatcher) ActiveTriggers() map[int64]TriggerEntry {
	current := *d.triggers.Load()
	out := make(map[int64]TriggerEntry, len(current))
	for id, entry := range current {
		out[id] = entry
	}
	return out
}

// NextRun reports when the trigger of scheduleID fires next after t.
func (d *Dispatcher) NextRun(scheduleID int64, t time.Time) (time.Time, bool) {
	entry, ok := (*d.triggers.Load())[scheduleID]
	if !ok {
		return time.Time{}, false
	}
	next := entry.Rule.Next(t)
	return next, !next.IsZero()
}

// AddJob registers a maintenance job that lives outside the schedule mapping.
func (d *Dispatcher) AddJob(rule Rule, job func(context.Context) error) {
	d.cron.Schedule(rule, cron.FuncJob(func() {
		if err := job(d.ctx); err != nil {
			d.logger.Errorf("Maintenance job failed: %v", err)
		}
	}))
}

// Start runs the engine. ctx is handed to every fired trigger.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	d.cron.Start()
}

func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}
