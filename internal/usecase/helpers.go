package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	timestampLayout  = "20060102_150405"
	encryptedSuffix  = ".enc"
	backupNamePrefix = "backup_"
)

// backup_<database>_<YYYYMMDD>_<HHMMSS><ext>[.gz][.enc]
var backupNamePattern = regexp.MustCompile(`^backup_(.+)_(\d{8}_\d{6})(\.[^/]+)?$`)

// BackupName builds the artifact name for a dump taken at t.
func BackupName(database, ext string, t time.Time) string {
	return fmt.Sprintf("%s%s_%s%s", backupNamePrefix, database, t.Format(timestampLayout), ext)
}

type parsedName struct {
	Database  string
	CreatedAt time.Time
	Encrypted bool
}

func parseBackupName(name string) (parsedName, error) {
	m := backupNamePattern.FindStringSubmatch(name)
	if m == nil {
		return parsedName{}, fmt.Errorf("invalid backup name %q", name)
	}

	ts, err := time.Parse(timestampLayout, m[2])
	if err != nil {
		return parsedName{}, fmt.Errorf("invalid timestamp in %q: %w", name, err)
	}

	return parsedName{
		Database:  m[1],
		CreatedAt: ts,
		Encrypted: strings.HasSuffix(name, encryptedSuffix),
	}, nil
}

// splitKey separates a primary key "<database>/<name>".
func splitKey(key string) (database, name string, ok bool) {
	database, name, ok = strings.Cut(key, "/")
	if !ok || database == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return database, name, true
}
