// Package sqlite is the embedded metadata store for single-node deployments.
// Schedule changes are announced on an in-process watermill channel in place
// of LISTEN/NOTIFY.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/semmidev/dbguardian/internal/domain"
)

var ErrClosed = errors.New("store closed")

type Logger interface {
	Warnf(template string, args ...interface{})
}

type Option func(*Store)

// WithLogger receives warnings the store cannot return, such as an
// undelivered change event.
func WithLogger(l Logger) Option {
	return func(s *Store) { s.logger = l }
}

type Store struct {
	db     *gorm.DB
	pubsub *gochannel.GoChannel
	logger Logger

	mu     sync.RWMutex
	closed bool
}

// Open creates the database file and its directory when missing.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1) // single writer
	sqlDB.SetMaxIdleConns(1)

	s := &Store{
		db: db,
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&scheduleModel{}, &backupModel{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	perr := s.pubsub.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return errors.Join(perr, sqlDB.Close())
}

// publish announces a committed schedule change. Delivery is best effort, the
// same as NOTIFY with no listener: the row is already written, so a failure
// is logged and never reaches the caller.
func (s *Store) publish(ev domain.ChangeEvent) {
	payload, err := ev.Payload()
	if err == nil {
		err = s.pubsub.Publish(domain.ScheduleChannel, message.NewMessage(watermill.NewUUID(), []byte(payload)))
	}
	if err != nil {
		s.logger.Warnf("Schedule %d committed but change event not published: %v", ev.ScheduleID, err)
	}
}

func (s *Store) Subscribe(ctx context.Context, channel string) (domain.Subscription, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(context.Background())
	msgs, err := s.pubsub.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := &subscription{
		store:   s,
		channel: channel,
		out:     make(chan *domain.Notification, 16),
		cancel:  cancel,
	}
	go sub.forward(subCtx, msgs)

	return sub, nil
}

type subscription struct {
	store   *Store
	channel string
	out     chan *domain.Notification
	cancel  context.CancelFunc
}

func (s *subscription) forward(ctx context.Context, msgs <-chan *message.Message) {
	defer close(s.out)
	for msg := range msgs {
		n := &domain.Notification{Channel: s.channel, Payload: string(msg.Payload)}
		msg.Ack()
		select {
		case s.out <- n:
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) Notifications() <-chan *domain.Notification {
	return s.out
}

func (s *subscription) Ping(ctx context.Context) error {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if s.store.closed {
		return ErrClosed
	}
	return nil
}

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
