package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/semmidev/dbguardian/internal/domain"
)

func (s *Store) CreateBackupRecord(ctx context.Context, r *domain.BackupRecord) error {
	query := `
		INSERT INTO backups (database_name, backup_name, storage_type, storage_location, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	status := r.Status
	if status == "" {
		status = domain.StatusCompleted
	}

	var size sql.NullInt64
	if r.SizeBytes != nil {
		size = sql.NullInt64{Int64: *r.SizeBytes, Valid: true}
	}

	var created sql.NullTime
	err := s.db.QueryRowContext(ctx, query,
		r.DatabaseName,
		r.BackupName,
		string(r.StorageKind),
		r.StorageLocation,
		size,
		status,
	).Scan(&r.ID, &created)
	if err != nil {
		return fmt.Errorf("failed to record backup metadata: %w", err)
	}

	r.Status = status
	if created.Valid {
		r.CreatedAt = &created.Time
	}
	return nil
}

// ListBackupRecords returns the metadata rows, newest first. An empty
// databaseName lists every database.
func (s *Store) ListBackupRecords(ctx context.Context, databaseName string) ([]domain.BackupRecord, error) {
	query := `
		SELECT id, database_name, backup_name, storage_type, storage_location, created_at, size_bytes, status
		FROM backups
		WHERE ($1 = '' OR database_name = $1)
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var records []domain.BackupRecord
	for rows.Next() {
		var (
			r       domain.BackupRecord
			kind    string
			created sql.NullTime
			size    sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DatabaseName, &r.BackupName, &kind, &r.StorageLocation, &created, &size, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}

		r.StorageKind = domain.StorageKind(kind)
		r.Key = domain.KeyFromLocation(r.StorageKind, r.StorageLocation)
		r.Encrypted = strings.HasSuffix(r.BackupName, ".enc")
		if created.Valid {
			r.CreatedAt = &created.Time
		}
		if size.Valid {
			r.SizeBytes = &size.Int64
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backups: %w", err)
	}

	return records, nil
}

// DeleteBackupRecordsByLocation removes every row stored at one of locations.
func (s *Store) DeleteBackupRecordsByLocation(ctx context.Context, locations ...string) (int64, error) {
	if len(locations) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE storage_location = ANY($1)`, pq.Array(locations))
	if err != nil {
		return 0, fmt.Errorf("failed to delete backup metadata: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n, nil
}
