package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbguardian/internal/infrastructure/queue"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run, list and delete backups",
}

var backupRunCmd = &cobra.Command{
	Use:   "run [database]",
	Short: "Back up a database now",
	Long: `Dump, upload and record one database immediately and wait for the result.
With --schedule the database is taken from that schedule, which must exist and
be enabled, and its last run time is updated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheduleID, _ := cmd.Flags().GetInt64("schedule")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if scheduleID == 0 && len(args) == 0 {
			return fmt.Errorf("a database name or --schedule is required")
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := connectedApp(ctx)
		if err != nil {
			return err
		}
		defer a.Shutdown()
		a.Start(ctx)

		var id string
		if scheduleID != 0 {
			id, err = a.TriggerSchedule(ctx, scheduleID)
		} else {
			id, err = a.TriggerDatabase(ctx, args[0])
		}
		if err != nil {
			return err
		}

		cmd.Printf("Queued backup %s\n", id)

		waitCtx := ctx
		if timeout > 0 {
			var stop context.CancelFunc
			waitCtx, stop = context.WithTimeout(ctx, timeout)
			defer stop()
		}

		inv, err := a.WaitInvocation(waitCtx, id)
		if err != nil {
			return fmt.Errorf("wait for backup %s: %w", id, err)
		}
		printInvocation(cmd, inv)
		if inv.State == queue.StateFailure {
			return fmt.Errorf("backup failed: %s", inv.Error)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")

		a, err := connectedApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown()

		backups, err := a.ListBackups(cmd.Context(), database)
		if err != nil {
			return err
		}
		printBackups(cmd.OutOrStdout(), backups)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a backup by its storage key",
	Long: `Delete a backup from whichever store holds it. The key is the one shown by
"backup list": <database>/<name> for object storage, or the file name for the
fallback directory. Matching metadata rows are removed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectedApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown()

		res, err := a.DeleteBackup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Printf("%s Deleted %s from %s storage (%d metadata row(s) removed)\n",
			colorGreen+"✓"+colorReset, res.Name, res.Storage, res.Purged)
		return nil
	},
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups older than the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectedApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown()

		n, err := a.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("Deleted %d old backup(s)\n", n)
		return nil
	},
}

func init() {
	backupRunCmd.Flags().Int64("schedule", 0, "back up the database of this schedule id")
	backupRunCmd.Flags().Duration("timeout", 2*time.Hour, "give up waiting after this long (0 waits forever)")
	backupListCmd.Flags().StringP("database", "d", "", "only list backups of this database")

	backupCmd.AddCommand(backupRunCmd, backupListCmd, backupDeleteCmd, backupCleanupCmd)
	rootCmd.AddCommand(backupCmd)
}
