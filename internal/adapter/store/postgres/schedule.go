package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
)

const scheduleColumns = `id, database_name, schedule_type, interval_minutes, cron_expression, enabled, created_at, last_run, next_run`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (domain.Schedule, error) {
	var (
		s        domain.Schedule
		kind     string
		interval sql.NullInt64
		cronExpr sql.NullString
		lastRun  sql.NullTime
		nextRun  sql.NullTime
	)

	if err := row.Scan(&s.ID, &s.DatabaseName, &kind, &interval, &cronExpr, &s.Enabled, &s.CreatedAt, &lastRun, &nextRun); err != nil {
		return domain.Schedule{}, err
	}

	// Unknown kinds are kept as-is so the dispatcher can log and skip them.
	s.Kind, _ = domain.ParseScheduleKind(kind)
	if interval.Valid {
		v := int(interval.Int64)
		s.IntervalMinutes = &v
	}
	if cronExpr.Valid {
		s.CronExpression = &cronExpr.String
	}
	if lastRun.Valid {
		s.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		s.NextRun = &nextRun.Time
	}

	return s, nil
}

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedules: %w", err)
	}

	return schedules, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules WHERE id = $1`, id)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule %d: %w", id, err)
	}

	return &sched, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sched *domain.Schedule) error {
	query := `
		INSERT INTO backup_schedules (database_name, schedule_type, interval_minutes, cron_expression, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		sched.DatabaseName,
		string(sched.Kind),
		nullInt(sched.IntervalMinutes),
		nullString(sched.CronExpression),
		sched.Enabled,
	).Scan(&sched.ID, &sched.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *domain.Schedule) error {
	query := `
		UPDATE backup_schedules
		SET database_name = $2, schedule_type = $3, interval_minutes = $4, cron_expression = $5, enabled = $6
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		sched.ID,
		sched.DatabaseName,
		string(sched.Kind),
		nullInt(sched.IntervalMinutes),
		nullString(sched.CronExpression),
		sched.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule %d: %w", sched.ID, err)
	}

	return expectRow(res, sched.ID)
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backup_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %d: %w", id, err)
	}

	return expectRow(res, id)
}

// MarkScheduleRun records a firing. A nil nextRun leaves next_run untouched.
func (s *Store) MarkScheduleRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	query := `
		UPDATE backup_schedules
		SET last_run = $2, next_run = COALESCE($3, next_run)
		WHERE id = $1
	`

	var next sql.NullTime
	if nextRun != nil {
		next = sql.NullTime{Time: *nextRun, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query, id, lastRun, next)
	if err != nil {
		return fmt.Errorf("failed to update schedule run time: %w", err)
	}

	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
