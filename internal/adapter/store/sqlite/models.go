package sqlite

import (
	"strings"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
)

type scheduleModel struct {
	ID              int64  `gorm:"primaryKey"`
	DatabaseName    string `gorm:"not null"`
	ScheduleType    string `gorm:"not null"`
	IntervalMinutes *int
	CronExpression  *string
	Enabled         bool `gorm:"not null;default:true;index"`
	CreatedAt       time.Time
	LastRun         *time.Time
	NextRun         *time.Time
}

func (scheduleModel) TableName() string { return "backup_schedules" }

func (m scheduleModel) toDomain() domain.Schedule {
	kind, _ := domain.ParseScheduleKind(m.ScheduleType)
	return domain.Schedule{
		ID:              m.ID,
		DatabaseName:    m.DatabaseName,
		Kind:            kind,
		IntervalMinutes: m.IntervalMinutes,
		CronExpression:  m.CronExpression,
		Enabled:         m.Enabled,
		CreatedAt:       m.CreatedAt,
		LastRun:         m.LastRun,
		NextRun:         m.NextRun,
	}
}

func scheduleFromDomain(s *domain.Schedule) scheduleModel {
	return scheduleModel{
		ID:              s.ID,
		DatabaseName:    s.DatabaseName,
		ScheduleType:    string(s.Kind),
		IntervalMinutes: s.IntervalMinutes,
		CronExpression:  s.CronExpression,
		Enabled:         s.Enabled,
		CreatedAt:       s.CreatedAt,
		LastRun:         s.LastRun,
		NextRun:         s.NextRun,
	}
}

type backupModel struct {
	ID              int64  `gorm:"primaryKey"`
	DatabaseName    string `gorm:"not null;index"`
	BackupName      string `gorm:"not null"`
	StorageType     string `gorm:"not null"`
	StorageLocation string `gorm:"not null;index"`
	CreatedAt       time.Time
	SizeBytes       *int64
	Status          string `gorm:"not null;default:completed"`
}

func (backupModel) TableName() string { return "backups" }

func (m backupModel) toDomain() domain.BackupRecord {
	kind := domain.StorageKind(m.StorageType)

	created := m.CreatedAt
	return domain.BackupRecord{
		ID:              m.ID,
		Key:             domain.KeyFromLocation(kind, m.StorageLocation),
		DatabaseName:    m.DatabaseName,
		BackupName:      m.BackupName,
		Encrypted:       strings.HasSuffix(m.BackupName, ".enc"),
		StorageKind:     kind,
		StorageLocation: m.StorageLocation,
		CreatedAt:       &created,
		SizeBytes:       m.SizeBytes,
		Status:          m.Status,
	}
}
