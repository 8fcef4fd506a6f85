package cmd

import (
	"github.com/spf13/cobra"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Inspect backup schedules",
}

var schedulesPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the enabled schedules and when each fires next",
	Long: `Read the enabled schedules and print the trigger each one would get, without
starting anything. Schedules whose cron expression cannot be parsed are left
out, the same as in the running service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectedApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Shutdown()

		plan, err := a.PlanSchedules(cmd.Context())
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

func init() {
	schedulesCmd.AddCommand(schedulesPlanCmd)
	rootCmd.AddCommand(schedulesCmd)
}
