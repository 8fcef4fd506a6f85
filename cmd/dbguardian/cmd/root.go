package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbguardian/internal/app"
	"github.com/semmidev/dbguardian/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dbguardian",
	Short: "Scheduled database backups with object storage and local fallback",
	Long: `dbguardian runs database backups on schedules stored in its metadata database.

Schedules are rows in backup_schedules. Changes are picked up immediately
through database notifications, so there is nothing to restart after editing
them. Each backup is dumped with the database's native tool, optionally
compressed and encrypted, and uploaded to S3-compatible storage. When the
object store is unavailable the artifact is written to the fallback directory
instead.

Common workflows:

  Run the service:
    dbguardian serve --config config.yaml

  Back up one database now:
    dbguardian backup run shop

  List and delete backups:
    dbguardian backup list --database shop
    dbguardian backup delete shop/backup_shop_20260301_030000.dump

  Show when each schedule fires next:
    dbguardian schedules plan

Configuration is read from the YAML file given with --config and from
DBGUARDIAN_* environment variables (DATABASE_URL, MINIO_* and
BACKUP_ENCRYPTION_* are honoured as well).`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
}

// newApp builds the application from the config file. Tests replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize app: %w", err)
	}
	return a, nil
}

// connectedApp is loadApp for one-shot commands, which need the store up.
func connectedApp(ctx context.Context) (*app.App, error) {
	a, err := loadApp(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
