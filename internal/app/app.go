package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/semmidev/dbguardian/internal/adapter/cipher"
	"github.com/semmidev/dbguardian/internal/adapter/compressor"
	"github.com/semmidev/dbguardian/internal/adapter/database"
	"github.com/semmidev/dbguardian/internal/adapter/notifier"
	"github.com/semmidev/dbguardian/internal/adapter/storage"
	"github.com/semmidev/dbguardian/internal/adapter/store/postgres"
	"github.com/semmidev/dbguardian/internal/adapter/store/sqlite"
	"github.com/semmidev/dbguardian/internal/config"
	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/listener"
	"github.com/semmidev/dbguardian/internal/infrastructure/logger"
	"github.com/semmidev/dbguardian/internal/infrastructure/metrics"
	"github.com/semmidev/dbguardian/internal/infrastructure/queue"
	"github.com/semmidev/dbguardian/internal/infrastructure/scheduler"
	"github.com/semmidev/dbguardian/internal/usecase"
)

const pruneAge = 24 * time.Hour

// MetadataStore is what the service needs from the schedule and backup
// metadata database.
type MetadataStore interface {
	domain.ScheduleStore
	domain.BackupRecordStore
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

type App struct {
	config *config.Config
	logger *logger.Logger

	store      MetadataStore
	source     domain.NotificationSource
	dispatcher *scheduler.Dispatcher
	listener   *listener.Listener
	queue      *queue.Queue

	backup  *usecase.Backup
	catalog *usecase.Catalog
	cleanup *usecase.Cleanup

	degraded atomic.Bool
}

type options struct {
	logger  *logger.Logger
	dumpers domain.DumperResolver
	store   MetadataStore
	source  domain.NotificationSource
	primary domain.ObjectStore
}

type Option func(*options)

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDumpers replaces the dump tools built from the database config.
func WithDumpers(r domain.DumperResolver) Option {
	return func(o *options) { o.dumpers = r }
}

// WithStore replaces the metadata store and its change source.
func WithStore(s MetadataStore, source domain.NotificationSource) Option {
	return func(o *options) {
		o.store = s
		o.source = source
	}
}

// WithPrimary replaces the configured object store.
func WithPrimary(s domain.ObjectStore) Option {
	return func(o *options) { o.primary = s }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		l, err := logger.New(logger.Options{
			Level:     cfg.App.LogLevel,
			File:      cfg.App.LogFile,
			MaxSizeMB: cfg.App.LogMaxSizeMB,
			Service:   cfg.App.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = l
	}

	log.Infof("Starting %s", cfg.App.Name)

	store, source := o.store, o.source
	if store == nil {
		var err error
		store, source, err = openStore(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	primary := o.primary
	if primary == nil && cfg.Storage.S3.Enabled {
		s3, err := storage.NewS3(ctx, cfg.Storage.S3)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize S3: %w", err)
		}
		primary = s3
		log.Infof("✓ S3 primary storage enabled (bucket: %s)", cfg.Storage.S3.Bucket)
	}
	if primary == nil && cfg.Storage.GDrive.Enabled {
		gd, err := storage.NewGDrive(ctx, cfg.Storage.GDrive)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize Google Drive: %w", err)
		}
		primary = gd
		log.Infof("✓ Google Drive primary storage enabled (folder: %s)", cfg.Storage.GDrive.FolderID)
	}
	if primary != nil && cfg.Storage.Breaker.Enabled {
		primary = storage.NewBreaker("primary", primary,
			cfg.Storage.Breaker.FailureThreshold, cfg.Storage.Breaker.OpenTimeout, log.Named("breaker"))
	}

	fallback, err := storage.NewLocal(cfg.Backup.FallbackDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize fallback storage: %w", err)
	}
	log.Infof("✓ Fallback storage at %s", fallback.Dir())

	dumpers := o.dumpers
	if dumpers == nil {
		serverURL := ""
		if cfg.Store.Driver == "postgres" {
			serverURL = cfg.Store.DSN
		}
		dumpers = database.NewResolver(cfg.Databases, serverURL)
	}
	log.Infof("Found %d database(s) configured", len(cfg.Databases))

	var notify usecase.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notifier.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram: %v", err)
		} else {
			notify = tg
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	stores := usecase.Stores{Primary: primary, Fallback: fallback}
	backupCfg := cfg.Backup

	a := &App{
		config: cfg,
		logger: log,
		store:  store,
		source: source,
		backup: usecase.NewBackup(
			store,
			store,
			dumpers,
			stores,
			compressor.NewGzip(0),
			cipher.NewXChaCha(),
			notify,
			log.Named("backup"),
			usecase.BackupConfig{
				TempDir:  backupCfg.TempDir,
				Compress: backupCfg.Compress,
				Encrypt:  backupCfg.Encrypt,
				ResolveKey: func() ([]byte, error) {
					return cipher.ResolveKey(backupCfg.EncryptionKey, backupCfg.EncryptionPassword)
				},
			},
		),
		catalog: usecase.NewCatalog(stores, store, log.Named("catalog")),
		queue: queue.New(log.Named("queue"), queue.Options{
			Workers:    cfg.Queue.Workers,
			Buffer:     cfg.Queue.Buffer,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryDelay: cfg.Queue.RetryDelay,
		}),
	}
	a.cleanup = usecase.NewCleanup(a.catalog, log.Named("cleanup"), cfg.Backup.RetentionDays)
	a.dispatcher = scheduler.New(store, a.fire, log.Named("scheduler"), cfg.Location())
	a.listener = listener.New(source, listener.RefresherFunc(a.refresh), log.Named("listener"), listener.Options{
		Channel:        cfg.Listener.Channel,
		ReconnectDelay: cfg.Listener.ReconnectDelay,
		Keepalive:      cfg.Listener.Keepalive,
		PingTimeout:    cfg.Listener.PingTimeout,
	})

	return a, nil
}

func openStore(cfg *config.Config, log *logger.Logger) (MetadataStore, domain.NotificationSource, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.DSN, sqlite.WithLogger(log.Named("store")))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := postgres.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, postgres.NewNotifier(cfg.Store.DSN, log.Named("notify")), nil
	}
}

// Connect waits for the metadata store and applies migrations. When the store
// stays unreachable the service carries on degraded with no schedules; the
// listener keeps retrying and resyncs once the store is back.
func (a *App) Connect(ctx context.Context) error {
	retries := a.config.Store.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.store.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(a.config.Store.ConnectRetryDelay)),
		backoff.WithMaxTries(uint(retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warnf("Database not ready: %v, retrying in %s", err, next)
		}),
	)
	if err != nil {
		a.degraded.Store(true)
		return fmt.Errorf("metadata store unreachable after %d attempts: %w", retries, err)
	}

	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	a.degraded.Store(false)
	a.logger.Infof("✓ Connected to metadata store (%s)", a.config.Store.Driver)
	return nil
}

// refresh serves the listener. A degraded start never migrated, so the first
// refresh that finds the store reachable applies migrations before reading.
func (a *App) refresh(ctx context.Context) bool {
	if a.degraded.Load() {
		if err := a.store.Migrate(ctx); err != nil {
			a.logger.Warnf("Metadata store still unavailable: %v", err)
			return false
		}
		a.degraded.Store(false)
		a.logger.Infof("✓ Metadata store recovered, migrations applied")
	}
	return a.dispatcher.Refresh(ctx)
}

func (a *App) Degraded() bool {
	return a.degraded.Load()
}

// Run starts the service and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if !a.Degraded() {
			return err
		}
		a.logger.Errorf("%v, running degraded with no schedules", err)
	}

	a.queue.Start(ctx)

	if !a.Degraded() {
		a.dispatcher.Refresh(ctx)
	}

	if a.cleanup.Enabled() {
		rule, err := scheduler.ParseCron(a.config.Backup.CleanupSchedule)
		if err != nil {
			return fmt.Errorf("backup.cleanup_schedule: %w", err)
		}
		a.logger.Infof("Scheduling cleanup: %s", rule.Spec())
		a.dispatcher.AddJob(rule, func(ctx context.Context) error {
			_, err := a.cleanup.Execute(ctx)
			return err
		})
	}
	a.dispatcher.AddJob(scheduler.IntervalRule{Every: time.Hour}, func(context.Context) error {
		if n := a.queue.Prune(pruneAge); n > 0 {
			a.logger.Debugf("Pruned %d finished invocation(s)", n)
		}
		return nil
	})

	a.dispatcher.Start(ctx)
	a.listener.Start(ctx)
	a.logger.Infof("Scheduler started with %d active schedule(s)", len(a.dispatcher.ActiveTriggers()))

	if addr := a.config.App.MetricsAddr; addr != "" {
		go func() {
			a.logger.Infof("Serving metrics on %s", addr)
			if err := metrics.Serve(ctx, addr); err != nil {
				a.logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// Start runs the queue workers alone, for one-shot commands that enqueue and
// wait.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx)
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.dispatcher.Stop()
	a.listener.Wait()
	a.queue.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warnf("Failed to close metadata store: %v", err)
	}
	a.logger.Close()
}
