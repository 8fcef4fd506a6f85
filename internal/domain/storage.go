package domain

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type ObjectStore interface {
	Put(ctx context.Context, key string, localPath string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
	// Location renders key the way it is recorded in backup metadata.
	Location(key string) string
}
