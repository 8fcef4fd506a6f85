package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/dbguardian/internal/domain"
)

// LocalStorage is the flat fallback directory. Keys are reduced to their base
// name, so "shop/backup_shop_20260101_030000.dump" and
// "backup_shop_20260101_030000.dump" address the same file.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: abs}, nil
}

func (l *LocalStorage) Put(ctx context.Context, key string, localPath string) (err error) {
	destPath := l.GetPath(key)

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	// Write under a temporary name so a half-copied file is never listed.
	tmp, err := os.CreateTemp(l.basePath, ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close dest: %w", err)
	}
	if err = os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("failed to move into place: %w", err)
	}

	return nil
}

func (l *LocalStorage) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	name := baseName(key)
	if name == "" {
		return domain.ObjectInfo{}, fmt.Errorf("%q: %w", key, domain.ErrObjectNotFound)
	}

	info, err := os.Stat(l.GetPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ObjectInfo{}, fmt.Errorf("%s: %w", name, domain.ErrObjectNotFound)
		}
		return domain.ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return domain.ObjectInfo{}, fmt.Errorf("%s: %w", name, domain.ErrObjectNotFound)
	}

	return domain.ObjectInfo{Key: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the regular files whose name starts with prefix. A missing
// directory lists as empty.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []domain.ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".partial-") {
			continue
		}
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		files = append(files, domain.ObjectInfo{
			Key:     entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}

func (l *LocalStorage) Remove(ctx context.Context, key string) error {
	name := baseName(key)
	if name == "" {
		return fmt.Errorf("%q: %w", key, domain.ErrObjectNotFound)
	}

	if err := os.Remove(l.GetPath(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, domain.ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Location is the absolute path recorded in backup metadata.
func (l *LocalStorage) Location(key string) string {
	return l.GetPath(key)
}

func (l *LocalStorage) GetPath(key string) string {
	return filepath.Join(l.basePath, baseName(key))
}

func (l *LocalStorage) Dir() string {
	return l.basePath
}

// baseName keeps only the last element of a slash separated key and refuses
// names that would escape the directory.
func baseName(key string) string {
	name := path.Base(filepath.ToSlash(key))
	switch name {
	case ".", "/", "..":
		return ""
	}
	return name
}
