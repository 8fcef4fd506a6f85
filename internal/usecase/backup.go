package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/metrics"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultSkipped   ResultStatus = "skipped"
)

// Target names what to back up. A non-zero ScheduleID wins over Database and
// is re-read at execution time.
type Target struct {
	ScheduleID int64
	Database   string
}

func (t Target) String() string {
	if t.ScheduleID != 0 {
		return fmt.Sprintf("schedule %d", t.ScheduleID)
	}
	return t.Database
}

type Result struct {
	Status ResultStatus
	Reason string
	Record *domain.BackupRecord
}

// Progress receives a short description of each pipeline step.
type Progress func(message string)

type ScheduleReader interface {
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
}

type Notifier interface {
	BackupCompleted(ctx context.Context, record domain.BackupRecord, localPath string) error
	BackupFailed(ctx context.Context, database string, cause error) error
}

// Stores is the two-tier storage policy. Primary may be nil when no object
// store is configured; Fallback is always present.
type Stores struct {
	Primary  domain.ObjectStore
	Fallback domain.ObjectStore
}

type BackupConfig struct {
	TempDir  string
	Compress bool
	Encrypt  bool
	// ResolveKey returns the encryption key. It is called once per run when
	// Encrypt is set, before anything is dumped.
	ResolveKey func() ([]byte, error)
}

type Backup struct {
	schedules  ScheduleReader
	records    domain.BackupRecordStore
	dumpers    domain.DumperResolver
	stores     Stores
	compressor domain.Compressor
	cipher     domain.Cipher
	notifier   Notifier
	logger     Logger
	cfg        BackupConfig
	now        func() time.Time
}

func NewBackup(
	schedules ScheduleReader,
	records domain.BackupRecordStore,
	dumpers domain.DumperResolver,
	stores Stores,
	compressor domain.Compressor,
	cipher domain.Cipher,
	notifier Notifier,
	logger Logger,
	cfg BackupConfig,
) *Backup {
	return &Backup{
		schedules:  schedules,
		records:    records,
		dumpers:    dumpers,
		stores:     stores,
		compressor: compressor,
		cipher:     cipher,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Execute runs the pipeline for one target. A schedule that is gone or
// disabled by the time it runs is skipped without error.
func (uc *Backup) Execute(ctx context.Context, target Target, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}

	dbName := target.Database
	if target.ScheduleID != 0 {
		progress("Resolving schedule")
		sched, err := uc.schedules.GetSchedule(ctx, target.ScheduleID)
		if err != nil {
			if errors.Is(err, domain.ErrScheduleNotFound) {
				return uc.skip(target, "schedule not found"), nil
			}
			metrics.BackupsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("load schedule %d: %w", target.ScheduleID, err)
		}
		if !sched.Enabled {
			return uc.skip(target, "schedule disabled"), nil
		}
		dbName = sched.DatabaseName
	}

	start := uc.now()
	record, err := uc.run(ctx, dbName, progress)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		uc.logger.Errorf("[%s] Backup failed: %v", dbName, err)
		if uc.notifier != nil {
			if nerr := uc.notifier.BackupFailed(ctx, dbName, err); nerr != nil {
				uc.logger.Warnf("[%s] Failed to send failure notification: %v", dbName, nerr)
			}
		}
		return nil, err
	}

	elapsed := uc.now().Sub(start)
	metrics.BackupsTotal.WithLabelValues("success").Inc()
	metrics.BackupDuration.WithLabelValues(dbName).Observe(elapsed.Seconds())
	uc.logger.Infof("[%s] Backup completed in %s: %s", dbName, elapsed.Round(time.Second), record.BackupName)

	return &Result{Status: ResultCompleted, Record: record}, nil
}

func (uc *Backup) skip(target Target, reason string) *Result {
	metrics.BackupsTotal.WithLabelValues("skipped").Inc()
	uc.logger.Warnf("Skipping backup for %s: %s", target, reason)
	return &Result{Status: ResultSkipped, Reason: reason}
}

func (uc *Backup) run(ctx context.Context, dbName string, progress Progress) (*domain.BackupRecord, error) {
	var key []byte
	if uc.cfg.Encrypt {
		if uc.cfg.ResolveKey == nil {
			return nil, domain.ErrEncryptionKeyMissing
		}
		k, err := uc.cfg.ResolveKey()
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		key = k
	}

	dumper, err := uc.dumpers.Resolve(dbName)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp(uc.cfg.TempDir, "dbguardian-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	name := BackupName(dbName, dumper.Extension(), uc.now().UTC())
	path := filepath.Join(tempDir, name)

	progress("Dumping database")
	uc.logger.Infof("[%s] Starting %s backup...", dbName, dumper.GetType())
	if err := dumper.Dump(ctx, path); err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	uc.logger.Infof("[%s] Backup created, size: %.2f MB", dbName, megabytes(info.Size()))

	if uc.cfg.Compress {
		progress("Compressing backup")
		compressed := path + ".gz"
		if err := uc.compressor.Compress(path, compressed); err != nil {
			return nil, fmt.Errorf("compression: %w", err)
		}
		path, name = compressed, name+".gz"
	}

	if uc.cfg.Encrypt {
		progress("Encrypting backup")
		encrypted := path + encryptedSuffix
		if err := uc.cipher.EncryptFile(path, encrypted, key); err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
		path, name = encrypted, name+encryptedSuffix
	}

	info, err = os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	size := info.Size()

	progress("Uploading to storage")
	record, err := uc.upload(ctx, dbName, name, path)
	if err != nil {
		return nil, err
	}
	record.SizeBytes = &size
	record.Encrypted = uc.cfg.Encrypt

	progress("Recording metadata")
	if err := uc.records.CreateBackupRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("record backup: %w", err)
	}

	if uc.notifier != nil {
		if err := uc.notifier.BackupCompleted(ctx, *record, path); err != nil {
			uc.logger.Warnf("[%s] Failed to send completion notification: %v", dbName, err)
		}
	}

	progress("Backup completed")
	return record, nil
}

// upload stores the artifact in the primary store, falling back to the local
// store on any primary error.
func (uc *Backup) upload(ctx context.Context, dbName, name, path string) (*domain.BackupRecord, error) {
	record := &domain.BackupRecord{
		DatabaseName: dbName,
		BackupName:   name,
		Status:       domain.StatusCompleted,
	}

	var primaryErr error
	if uc.stores.Primary != nil {
		key := dbName + "/" + name
		uc.logger.Infof("[%s] Uploading to primary storage...", dbName)
		if primaryErr = uc.stores.Primary.Put(ctx, key, path); primaryErr == nil {
			metrics.BackupUploads.WithLabelValues(string(domain.StoragePrimary)).Inc()
			record.Key = key
			record.StorageKind = domain.StoragePrimary
			record.StorageLocation = uc.stores.Primary.Location(key)
			return record, nil
		}
		uc.logger.Warnf("[%s] Primary storage upload failed, using fallback: %v", dbName, primaryErr)
	}

	if err := uc.stores.Fallback.Put(ctx, name, path); err != nil {
		if primaryErr != nil {
			return nil, fmt.Errorf("upload failed: %w", errors.Join(primaryErr, err))
		}
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	metrics.BackupUploads.WithLabelValues(string(domain.StorageFallback)).Inc()
	record.Key = name
	record.StorageKind = domain.StorageFallback
	record.StorageLocation = uc.stores.Fallback.Location(name)
	uc.logger.Infof("[%s] Stored in fallback storage: %s", dbName, record.StorageLocation)
	return record, nil
}

func megabytes(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
