package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/dbguardian/internal/domain"
)

// memStore is an in-memory primary store.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, times: map[string]time.Time{}}
}

func (m *memStore) Put(ctx context.Context, key, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.times[key] = time.Now()
	return nil
}

func (m *memStore) add(key string, data string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(data)
	m.times[key] = at
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) Stat(ctx context.Context, key string) (domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.ObjectInfo{}, m.err
	}
	data, ok := m.objects[key]
	if !ok {
		return domain.ObjectInfo{}, fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}
	return domain.ObjectInfo{Key: key, Size: int64(len(data)), ModTime: m.times[key]}, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.ObjectInfo{Key: key, Size: int64(len(data)), ModTime: m.times[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}
	delete(m.objects, key)
	return nil
}

func (m *memStore) Location(key string) string {
	return "s3://" + key
}

type fakeDumper struct {
	name  string
	err   error
	calls int
}

func (d *fakeDumper) Dump(ctx context.Context, outputPath string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(outputPath, []byte("dump of "+d.name), 0644)
}

func (d *fakeDumper) GetName() string   { return d.name }
func (d *fakeDumper) GetType() string   { return "postgresql" }
func (d *fakeDumper) Extension() string { return ".dump" }

type fakeResolver map[string]*fakeDumper

func (r fakeResolver) Resolve(name string) (domain.Dumper, error) {
	d, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("no database configured for %q", name)
	}
	return d, nil
}

type fakeSchedules map[int64]domain.Schedule

func (f fakeSchedules) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	s, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("schedule %d: %w", id, domain.ErrScheduleNotFound)
	}
	return &s, nil
}

type memRecords struct {
	mu        sync.Mutex
	rows      []domain.BackupRecord
	createErr error
	deleteErr error
	nextID    int64
}

func (m *memRecords) CreateBackupRecord(ctx context.Context, r *domain.BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	r.ID = m.nextID
	now := time.Now()
	r.CreatedAt = &now
	m.rows = append(m.rows, *r)
	return nil
}

func (m *memRecords) ListBackupRecords(ctx context.Context, databaseName string) ([]domain.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BackupRecord
	for _, r := range m.rows {
		if databaseName == "" || r.DatabaseName == databaseName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRecords) DeleteBackupRecordsByLocation(ctx context.Context, locations ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var kept []domain.BackupRecord
	var n int64
	for _, r := range m.rows {
		match := false
		for _, loc := range locations {
			if r.StorageLocation == loc {
				match = true
			}
		}
		if match {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type recordingNotifier struct {
	completed []domain.BackupRecord
	failed    []string
}

func (n *recordingNotifier) BackupCompleted(ctx context.Context, record domain.BackupRecord, localPath string) error {
	n.completed = append(n.completed, record)
	return nil
}

func (n *recordingNotifier) BackupFailed(ctx context.Context, database string, cause error) error {
	n.failed = append(n.failed, database)
	return errors.New("telegram unreachable")
}
