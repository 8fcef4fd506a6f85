package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/queue"
	"github.com/semmidev/dbguardian/internal/infrastructure/scheduler"
	"github.com/semmidev/dbguardian/internal/usecase"
)

// fire is called by the dispatcher when a trigger is due. It never runs the
// pipeline itself.
func (a *App) fire(ctx context.Context, entry scheduler.TriggerEntry, firedAt time.Time) {
	var next *time.Time
	if n, ok := a.dispatcher.NextRun(entry.ScheduleID, firedAt); ok {
		next = &n
	}
	if err := a.store.MarkScheduleRun(ctx, entry.ScheduleID, firedAt, next); err != nil {
		a.logger.Warnf("[%s] Failed to record run of schedule %d: %v", entry.DatabaseName, entry.ScheduleID, err)
	}

	if _, err := a.enqueue(usecase.Target{ScheduleID: entry.ScheduleID}); err != nil {
		a.logger.Errorf("[%s] Failed to queue backup for schedule %d: %v", entry.DatabaseName, entry.ScheduleID, err)
	}
}

func (a *App) enqueue(target usecase.Target) (string, error) {
	return a.queue.Enqueue("backup "+target.String(), func(ctx context.Context, h *queue.Handle) (any, error) {
		res, err := a.backup.Execute(ctx, target, h.Update)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// RefreshSchedules rebuilds the trigger set from the store.
func (a *App) RefreshSchedules(ctx context.Context) bool {
	return a.dispatcher.Refresh(ctx)
}

// TriggerSchedule queues an immediate backup for an enabled schedule and
// returns the invocation id.
func (a *App) TriggerSchedule(ctx context.Context, id int64) (string, error) {
	sched, err := a.store.GetSchedule(ctx, id)
	if err != nil {
		return "", err
	}
	if !sched.Enabled {
		return "", fmt.Errorf("schedule %d is disabled: %w", id, domain.ErrScheduleNotFound)
	}

	now := time.Now()
	var next *time.Time
	if rule, err := scheduler.RuleFor(*sched); err == nil {
		if n := rule.Next(now.In(a.config.Location())); !n.IsZero() {
			next = &n
		}
	}
	if err := a.store.MarkScheduleRun(ctx, id, now, next); err != nil {
		return "", fmt.Errorf("record run of schedule %d: %w", id, err)
	}

	return a.enqueue(usecase.Target{ScheduleID: id})
}

// TriggerDatabase queues an immediate backup of a database by name.
func (a *App) TriggerDatabase(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("database name is required")
	}
	return a.enqueue(usecase.Target{Database: name})
}

func (a *App) InvocationStatus(id string) (queue.Invocation, bool) {
	return a.queue.Get(id)
}

// WaitInvocation blocks until the invocation finishes or ctx ends.
func (a *App) WaitInvocation(ctx context.Context, id string) (queue.Invocation, error) {
	return a.queue.Wait(ctx, id)
}

func (a *App) ListBackups(ctx context.Context, database string) ([]domain.BackupRecord, error) {
	return a.catalog.List(ctx, database)
}

func (a *App) DeleteBackup(ctx context.Context, identifier string) (usecase.DeleteResult, error) {
	return a.catalog.Delete(ctx, identifier)
}

// PlannedTrigger describes when an enabled schedule would next fire.
type PlannedTrigger struct {
	ScheduleID int64
	Database   string
	Rule       string
	Next       time.Time
}

// PlanSchedules reads the enabled schedules and reports their rules and next
// firing times without starting anything.
func (a *App) PlanSchedules(ctx context.Context) ([]PlannedTrigger, error) {
	schedules, err := a.store.ListEnabledSchedules(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(a.config.Location())
	var plan []PlannedTrigger
	for id, entry := range scheduler.Build(schedules, a.logger) {
		plan = append(plan, PlannedTrigger{
			ScheduleID: id,
			Database:   entry.DatabaseName,
			Rule:       entry.Rule.Spec(),
			Next:       entry.Rule.Next(now),
		})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].ScheduleID < plan[j].ScheduleID })
	return plan, nil
}

// Cleanup runs the retention policy once.
func (a *App) Cleanup(ctx context.Context) (int, error) {
	return a.cleanup.Execute(ctx)
}
