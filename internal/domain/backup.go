package domain

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

type StorageKind string

const (
	StoragePrimary  StorageKind = "primary"
	StorageFallback StorageKind = "fallback"
)

const StatusCompleted = "completed"

var ErrBackupNotFound = errors.New("backup not found")

// BackupRecord describes one produced artifact.
//
// ID is the metadata store's primary key and is zero for records synthesized
// from a storage listing. Key is the storage object key; it is the stable
// external identifier callers pass to deletion and never collides with ID.
type BackupRecord struct {
	ID              int64
	Key             string
	DatabaseName    string
	BackupName      string
	Encrypted       bool
	StorageKind     StorageKind
	StorageLocation string
	CreatedAt       *time.Time
	SizeBytes       *int64
	Status          string
}

// KeyFromLocation recovers the storage key from a recorded location. Fallback
// locations are file paths; primary locations are "<scheme>://<key>".
func KeyFromLocation(kind StorageKind, location string) string {
	if kind == StorageFallback {
		return path.Base(location)
	}
	if i := strings.Index(location, "://"); i >= 0 {
		return location[i+3:]
	}
	return location
}

type BackupRecordStore interface {
	CreateBackupRecord(ctx context.Context, r *BackupRecord) error
	ListBackupRecords(ctx context.Context, databaseName string) ([]BackupRecord, error)
	DeleteBackupRecordsByLocation(ctx context.Context, locations ...string) (int64, error)
}

// DumpError carries the diagnostic output of a failed dump tool run.
type DumpError struct {
	Tool   string
	Output string
	Err    error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("%s failed: %v, output: %s", e.Tool, e.Err, e.Output)
}

func (e *DumpError) Unwrap() error {
	return e.Err
}
