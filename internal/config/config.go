package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Store     StoreConfig      `mapstructure:"store"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Listener  ListenerConfig   `mapstructure:"listener"`
	Queue     QueueConfig      `mapstructure:"queue"`
	Backup    BackupConfig     `mapstructure:"backup"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Databases []DatabaseConfig `mapstructure:"databases"`
	Notify    NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Name         string `mapstructure:"name"`
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver            string        `mapstructure:"driver"`
	DSN               string        `mapstructure:"dsn"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ListenerConfig struct {
	Channel        string        `mapstructure:"channel"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	Keepalive      time.Duration `mapstructure:"keepalive"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
}

type QueueConfig struct {
	Workers    int           `mapstructure:"workers"`
	Buffer     int           `mapstructure:"buffer"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type BackupConfig struct {
	TempDir            string `mapstructure:"temp_dir"`
	FallbackDir        string `mapstructure:"fallback_dir"`
	Compress           bool   `mapstructure:"compress"`
	Encrypt            bool   `mapstructure:"encrypt"`
	EncryptionKey      string `mapstructure:"encryption_key"`
	EncryptionPassword string `mapstructure:"encryption_password"`
	RetentionDays      int    `mapstructure:"retention_days"`
	CleanupSchedule    string `mapstructure:"cleanup_schedule"`
}

type StorageConfig struct {
	S3      S3Config      `mapstructure:"s3"`
	GDrive  GDriveConfig  `mapstructure:"gdrive"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type S3Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	Secure       bool   `mapstructure:"secure"`
	CreateBucket bool   `mapstructure:"create_bucket"`
}

// GDriveConfig selects a Google Drive folder as the primary store instead of
// S3. Only one primary may be enabled.
//
// Authentication uses either a service account key (credentials_file) or an
// OAuth client secret plus a refresh token obtained with "gdrive authorize".
type GDriveConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
	FolderID         string `mapstructure:"folder_id"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type DatabaseConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	SendFile bool   `mapstructure:"send_file"`
}

// Load reads the YAML file at path (optional when empty) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DBGUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dbguardian")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.connect_retries", 30)
	v.SetDefault("store.connect_retry_delay", 2*time.Second)

	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("listener.channel", "schedule_changes")
	v.SetDefault("listener.reconnect_delay", 5*time.Second)
	v.SetDefault("listener.keepalive", 60*time.Second)
	v.SetDefault("listener.ping_timeout", 10*time.Second)

	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("queue.max_retries", 0)
	v.SetDefault("queue.retry_delay", 30*time.Second)

	v.SetDefault("backup.fallback_dir", "/fallback")
	v.SetDefault("backup.compress", false)
	v.SetDefault("backup.encrypt", false)
	v.SetDefault("backup.retention_days", 0)
	v.SetDefault("backup.cleanup_schedule", "0 3 * * *")

	v.SetDefault("storage.s3.enabled", true)
	v.SetDefault("storage.s3.endpoint", "minio:9000")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "backups")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("storage.s3.create_bucket", true)

	v.SetDefault("storage.gdrive.enabled", false)

	v.SetDefault("storage.breaker.enabled", true)
	v.SetDefault("storage.breaker.failure_threshold", 3)
	v.SetDefault("storage.breaker.open_timeout", 2*time.Minute)
}

// bindLegacyEnv keeps the environment names deployments already use.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"store.dsn":                  "DATABASE_URL",
		"backup.encryption_key":      "BACKUP_ENCRYPTION_KEY",
		"backup.encryption_password": "BACKUP_ENCRYPTION_PASSWORD",
		"backup.fallback_dir":        "FALLBACK_STORAGE_DIR",
		"storage.s3.endpoint":        "MINIO_ENDPOINT",
		"storage.s3.access_key":      "MINIO_ACCESS_KEY",
		"storage.s3.secret_key":      "MINIO_SECRET_KEY",
		"storage.s3.bucket":          "MINIO_BUCKET_NAME",
	}
	for key, env := range legacy {
		envKey := "DBGUARDIAN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey, env)
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	if c.Backup.FallbackDir == "" {
		return fmt.Errorf("backup.fallback_dir is required")
	}

	if c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when s3 is enabled")
	}
	if c.Storage.GDrive.Enabled {
		if c.Storage.S3.Enabled {
			return fmt.Errorf("storage.s3 and storage.gdrive cannot both be enabled")
		}
		if c.Storage.GDrive.FolderID == "" {
			return fmt.Errorf("storage.gdrive.folder_id is required when gdrive is enabled")
		}
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries cannot be negative")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}

	for i, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("database[%d]: name is required", i)
		}
		if db.Type == "" {
			return fmt.Errorf("database[%d]: type is required", i)
		}
		if db.Host == "" {
			return fmt.Errorf("database[%d]: host is required", i)
		}
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram: bot_token and chat_id are required when enabled")
	}

	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) FindDatabase(name string) (DatabaseConfig, bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return DatabaseConfig{}, false
}
