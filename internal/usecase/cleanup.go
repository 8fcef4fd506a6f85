package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
)

// Cleanup deletes backups older than the retention window from both storage
// tiers through the catalog's delete path.
type Cleanup struct {
	catalog       *Catalog
	logger        Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanup(catalog *Catalog, logger Logger, retentionDays int) *Cleanup {
	return &Cleanup{
		catalog:       catalog,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (uc *Cleanup) Enabled() bool {
	return uc.retentionDays > 0
}

// Execute returns the number of backups deleted.
func (uc *Cleanup) Execute(ctx context.Context) (int, error) {
	if !uc.Enabled() {
		return 0, nil
	}

	uc.logger.Infof("Starting cleanup, retention: %d days", uc.retentionDays)
	cutoff := uc.now().AddDate(0, 0, -uc.retentionDays)

	var expired []domain.BackupRecord
	if uc.catalog.stores.Primary != nil {
		found, err := uc.catalog.listPrimary(ctx, "")
		if err != nil {
			uc.logger.Errorf("Cleanup failed for primary storage: %v", err)
		}
		expired = append(expired, olderThan(found, cutoff)...)
	}

	found, err := uc.catalog.listFallback(ctx, "")
	if err != nil {
		if len(expired) == 0 {
			return 0, fmt.Errorf("list fallback storage: %w", err)
		}
		uc.logger.Errorf("Cleanup failed for fallback storage: %v", err)
	}
	expired = append(expired, olderThan(found, cutoff)...)

	deleted := 0
	for _, b := range expired {
		uc.logger.Infof("Deleting old backup from %s storage: %s", b.StorageKind, b.Key)
		if _, err := uc.catalog.Delete(ctx, b.Key); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", b.Key, err)
			continue
		}
		deleted++
	}

	uc.logger.Infof("Cleanup completed, deleted %d old backup(s)", deleted)
	return deleted, nil
}

// olderThan uses the timestamp in the name so a re-uploaded file keeps its age.
func olderThan(backups []domain.BackupRecord, cutoff time.Time) []domain.BackupRecord {
	var out []domain.BackupRecord
	for _, b := range backups {
		parsed, err := parseBackupName(b.BackupName)
		if err != nil {
			continue
		}
		if parsed.CreatedAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	return out
}
