package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/semmidev/dbguardian/internal/domain"
)

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	var models []scheduleModel
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	schedules := make([]domain.Schedule, 0, len(models))
	for _, m := range models {
		schedules = append(schedules, m.toDomain())
	}
	return schedules, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	var m scheduleModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule %d: %w", id, err)
	}

	sched := m.toDomain()
	return &sched, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sched *domain.Schedule) error {
	m := scheduleFromDomain(sched)
	m.ID = 0
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	sched.ID = m.ID
	sched.CreatedAt = m.CreatedAt

	s.publish(domain.ChangeEvent{
		Action:       domain.ActionInserted,
		ScheduleID:   m.ID,
		DatabaseName: m.DatabaseName,
		Enabled:      m.Enabled,
	})
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *domain.Schedule) error {
	var old scheduleModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&old, sched.ID).Error; err != nil {
			return err
		}
		return tx.Model(&scheduleModel{ID: sched.ID}).Select(
			"DatabaseName", "ScheduleType", "IntervalMinutes", "CronExpression", "Enabled",
		).Updates(scheduleModel{
			DatabaseName:    sched.DatabaseName,
			ScheduleType:    string(sched.Kind),
			IntervalMinutes: sched.IntervalMinutes,
			CronExpression:  sched.CronExpression,
			Enabled:         sched.Enabled,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("schedule %d: %w", sched.ID, domain.ErrScheduleNotFound)
		}
		return fmt.Errorf("failed to update schedule %d: %w", sched.ID, err)
	}

	oldEnabled := old.Enabled
	s.publish(domain.ChangeEvent{
		Action:       domain.ActionUpdated,
		ScheduleID:   sched.ID,
		DatabaseName: sched.DatabaseName,
		Enabled:      sched.Enabled,
		OldEnabled:   &oldEnabled,
	})
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	var old scheduleModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&old, id).Error; err != nil {
			return err
		}
		return tx.Delete(&scheduleModel{}, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
		}
		return fmt.Errorf("failed to delete schedule %d: %w", id, err)
	}

	s.publish(domain.ChangeEvent{
		Action:       domain.ActionDeleted,
		ScheduleID:   id,
		DatabaseName: old.DatabaseName,
		Enabled:      old.Enabled,
	})
	return nil
}

// MarkScheduleRun records a firing. It is bookkeeping only and announces
// nothing.
func (s *Store) MarkScheduleRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	updates := map[string]any{"last_run": lastRun}
	if nextRun != nil {
		updates["next_run"] = *nextRun
	}

	res := s.db.WithContext(ctx).Model(&scheduleModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update schedule run time: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
	}
	return nil
}

func (s *Store) CreateBackupRecord(ctx context.Context, r *domain.BackupRecord) error {
	status := r.Status
	if status == "" {
		status = domain.StatusCompleted
	}

	m := backupModel{
		DatabaseName:    r.DatabaseName,
		BackupName:      r.BackupName,
		StorageType:     string(r.StorageKind),
		StorageLocation: r.StorageLocation,
		SizeBytes:       r.SizeBytes,
		Status:          status,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record backup metadata: %w", err)
	}

	r.ID = m.ID
	r.Status = status
	created := m.CreatedAt
	r.CreatedAt = &created
	return nil
}

func (s *Store) ListBackupRecords(ctx context.Context, databaseName string) ([]domain.BackupRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if databaseName != "" {
		q = q.Where("database_name = ?", databaseName)
	}

	var models []backupModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	records := make([]domain.BackupRecord, 0, len(models))
	for _, m := range models {
		records = append(records, m.toDomain())
	}
	return records, nil
}

func (s *Store) DeleteBackupRecordsByLocation(ctx context.Context, locations ...string) (int64, error) {
	if len(locations) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("storage_location IN ?", locations).Delete(&backupModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete backup metadata: %w", res.Error)
	}
	return res.RowsAffected, nil
}
