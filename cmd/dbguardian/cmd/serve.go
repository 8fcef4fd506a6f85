package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup scheduler",
	Long: `Start the dispatcher, the schedule change listener and the backup workers,
and keep running until interrupted. If the metadata database cannot be reached
at startup the service runs with no schedules and recovers when it comes back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Shutdown()

		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
