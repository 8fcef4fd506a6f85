package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbguardian/internal/app"
	"github.com/semmidev/dbguardian/internal/domain"
	"github.com/semmidev/dbguardian/internal/infrastructure/queue"
	"github.com/semmidev/dbguardian/internal/usecase"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stateIcon(state queue.State) string {
	switch state {
	case queue.StateSuccess:
		return colorGreen + "✓" + colorReset
	case queue.StateFailure:
		return colorRed + "✗" + colorReset
	case queue.StateProgress:
		return colorYellow + "⏳" + colorReset
	case queue.StatePending:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func printInvocation(cmd *cobra.Command, inv queue.Invocation) {
	cmd.Printf("%s %s%s%s\n", stateIcon(inv.State), colorBold, inv.Name, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, inv.ID)
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, inv.State)
	cmd.Printf("%sAttempts:%s    %d\n", colorDim, colorReset, inv.Attempts)
	if inv.Message != "" {
		cmd.Printf("%sStep:%s        %s\n", colorDim, colorReset, inv.Message)
	}
	if inv.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, inv.Error, colorReset)
	}
	if res, ok := inv.Result.(*usecase.Result); ok && res != nil {
		switch {
		case res.Status == usecase.ResultSkipped:
			cmd.Printf("%sSkipped:%s     %s\n", colorDim, colorReset, res.Reason)
		case res.Record != nil:
			cmd.Printf("%sStored:%s      %s (%s)\n", colorDim, colorReset, res.Record.StorageLocation, res.Record.StorageKind)
			cmd.Printf("%sSize:%s        %s\n", colorDim, colorReset, formatSize(res.Record.SizeBytes))
		}
	}
	if inv.StartedAt != nil && inv.FinishedAt != nil {
		cmd.Printf("%sDuration:%s    %s\n", colorDim, colorReset, inv.FinishedAt.Sub(*inv.StartedAt).Round(time.Millisecond))
	}
}

func printBackups(w io.Writer, backups []domain.BackupRecord) {
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tDATABASE\tSTORAGE\tCREATED\tSIZE\tENCRYPTED")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			b.Key, b.DatabaseName, b.StorageKind, formatTime(b.CreatedAt), formatSize(b.SizeBytes), b.Encrypted)
	}
	tw.Flush()
}

func printPlan(w io.Writer, plan []app.PlannedTrigger) {
	if len(plan) == 0 {
		fmt.Fprintln(w, "No enabled schedules")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATABASE\tRULE\tNEXT RUN")
	for _, p := range plan {
		next := p.Next
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ScheduleID, p.Database, p.Rule, formatTime(&next))
	}
	tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

func formatSize(n *int64) string {
	if n == nil {
		return "-"
	}
	switch {
	case *n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(*n)/(1<<30))
	case *n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(*n)/(1<<20))
	case *n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(*n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", *n)
	}
}
