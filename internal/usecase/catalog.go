package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/semmidev/dbguardian/internal/domain"
)

// Catalog lists and deletes stored artifacts across both storage tiers.
type Catalog struct {
	stores  Stores
	records domain.BackupRecordStore
	logger  Logger
}

type DeleteResult struct {
	Deleted bool
	Name    string
	Storage domain.StorageKind
	// Purged is the number of metadata rows removed alongside the artifact.
	Purged int64
}

func NewCatalog(stores Stores, records domain.BackupRecordStore, logger Logger) *Catalog {
	return &Catalog{stores: stores, records: records, logger: logger}
}

// List returns the stored backups, newest first. The primary store is
// authoritative; the fallback directory is scanned only when the primary is
// unavailable or holds nothing.
func (c *Catalog) List(ctx context.Context, database string) ([]domain.BackupRecord, error) {
	var backups []domain.BackupRecord

	if c.stores.Primary != nil {
		found, err := c.listPrimary(ctx, database)
		if err != nil {
			c.logger.Warnf("Failed to list backups from primary storage: %v", err)
		}
		backups = found
	}

	if len(backups) == 0 {
		found, err := c.listFallback(ctx, database)
		if err != nil {
			return nil, fmt.Errorf("list fallback storage: %w", err)
		}
		backups = found
	}

	c.enrich(ctx, database, backups)
	sortBackups(backups)
	return backups, nil
}

func (c *Catalog) listPrimary(ctx context.Context, database string) ([]domain.BackupRecord, error) {
	prefix := ""
	if database != "" {
		prefix = database + "/"
	}

	objects, err := c.stores.Primary.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var backups []domain.BackupRecord
	for _, obj := range objects {
		dbName, name, ok := splitKey(obj.Key)
		if !ok || (database != "" && dbName != database) {
			continue
		}
		if _, err := parseBackupName(name); err != nil {
			continue
		}

		size := obj.Size
		rec := domain.BackupRecord{
			Key:             obj.Key,
			DatabaseName:    dbName,
			BackupName:      name,
			Encrypted:       path.Ext(name) == encryptedSuffix,
			StorageKind:     domain.StoragePrimary,
			StorageLocation: c.stores.Primary.Location(obj.Key),
			SizeBytes:       &size,
			Status:          domain.StatusCompleted,
		}
		if !obj.ModTime.IsZero() {
			created := obj.ModTime
			rec.CreatedAt = &created
		}
		backups = append(backups, rec)
	}
	return backups, nil
}

func (c *Catalog) listFallback(ctx context.Context, database string) ([]domain.BackupRecord, error) {
	prefix := backupNamePrefix
	if database != "" {
		prefix += database + "_"
	}

	files, err := c.stores.Fallback.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var backups []domain.BackupRecord
	for _, f := range files {
		parsed, err := parseBackupName(f.Key)
		if err != nil || (database != "" && parsed.Database != database) {
			continue
		}

		size := f.Size
		created := parsed.CreatedAt
		backups = append(backups, domain.BackupRecord{
			Key:             f.Key,
			DatabaseName:    parsed.Database,
			BackupName:      f.Key,
			Encrypted:       parsed.Encrypted,
			StorageKind:     domain.StorageFallback,
			StorageLocation: c.stores.Fallback.Location(f.Key),
			CreatedAt:       &created,
			SizeBytes:       &size,
			Status:          domain.StatusCompleted,
		})
	}
	return backups, nil
}

// enrich copies metadata ids onto listed backups by storage location.
func (c *Catalog) enrich(ctx context.Context, database string, backups []domain.BackupRecord) {
	if c.records == nil || len(backups) == 0 {
		return
	}

	rows, err := c.records.ListBackupRecords(ctx, database)
	if err != nil {
		c.logger.Warnf("Failed to read backup metadata: %v", err)
		return
	}

	byLocation := make(map[string]domain.BackupRecord, len(rows))
	for _, r := range rows {
		byLocation[r.StorageLocation] = r
	}
	for i := range backups {
		if r, ok := byLocation[backups[i].StorageLocation]; ok {
			backups[i].ID = r.ID
			backups[i].Status = r.Status
		}
	}
}

// sortBackups orders newest first with undated entries last; ties go to the
// lexically greater name.
func sortBackups(backups []domain.BackupRecord) {
	sort.SliceStable(backups, func(i, j int) bool {
		a, b := backups[i].CreatedAt, backups[j].CreatedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return backups[i].BackupName > backups[j].BackupName
	})
}

// Delete removes the artifact named by identifier from whichever store holds
// it, primary first, and purges matching metadata rows.
func (c *Catalog) Delete(ctx context.Context, identifier string) (DeleteResult, error) {
	result := DeleteResult{Name: identifier}
	base := path.Base(identifier)

	var primaryErr error
	if c.stores.Primary != nil {
		_, err := c.stores.Primary.Stat(ctx, identifier)
		switch {
		case err == nil:
			if err := c.stores.Primary.Remove(ctx, identifier); err != nil {
				return result, fmt.Errorf("delete %s from primary storage: %w", identifier, err)
			}
			result.Deleted = true
			result.Storage = domain.StoragePrimary
		case errors.Is(err, domain.ErrObjectNotFound):
		default:
			primaryErr = err
			c.logger.Warnf("Primary storage unavailable while deleting %s: %v", identifier, err)
		}
	}

	if !result.Deleted {
		_, err := c.stores.Fallback.Stat(ctx, base)
		switch {
		case err == nil:
			if err := c.stores.Fallback.Remove(ctx, base); err != nil {
				return result, fmt.Errorf("delete %s from fallback storage: %w", base, err)
			}
			result.Deleted = true
			result.Storage = domain.StorageFallback
		case errors.Is(err, domain.ErrObjectNotFound):
		default:
			return result, fmt.Errorf("stat %s in fallback storage: %w", base, err)
		}
	}

	result.Purged = c.purge(ctx, identifier, base)

	if !result.Deleted {
		if primaryErr != nil {
			return result, fmt.Errorf("delete %s: %w", identifier, primaryErr)
		}
		return result, fmt.Errorf("%s: %w", identifier, domain.ErrBackupNotFound)
	}

	c.logger.Infof("Deleted backup %s from %s storage", identifier, result.Storage)
	return result, nil
}

// purge removes metadata rows in either location encoding. Failures are
// logged only.
func (c *Catalog) purge(ctx context.Context, identifier, base string) int64 {
	if c.records == nil {
		return 0
	}

	locations := []string{primaryLocation(c.stores.Primary, identifier), c.stores.Fallback.Location(base)}
	n, err := c.records.DeleteBackupRecordsByLocation(ctx, locations...)
	if err != nil {
		c.logger.Warnf("Failed to purge metadata for %s: %v", identifier, err)
		return 0
	}
	return n
}

func primaryLocation(primary domain.ObjectStore, key string) string {
	if primary != nil {
		return primary.Location(key)
	}
	return "s3://" + key
}
