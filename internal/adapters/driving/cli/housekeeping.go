package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

var housekeepingCmd = &cobra.Command{
	Use:   "housekeeping",
	Short: "Show housekeeping task schedules",
	Long: `Lists the housekeeping tasks with their interval, next run and the
outcome of the latest run. Tasks:

  diagnostics-purge   remove quarantined batches past each mandate's retention
  cache-refresh       drop every mandate cache and broadcast the invalidation`,
	Args: cobra.NoArgs,
	RunE: runHousekeeping,
}

var housekeepingRunCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a housekeeping task now",
	Args:  cobra.ExactArgs(1),
	RunE:  runHousekeepingRun,
}

var housekeepingHistoryCmd = &cobra.Command{
	Use:   "history [task]",
	Short: "Show recent runs of a housekeeping task",
	Args:  cobra.ExactArgs(1),
	RunE:  runHousekeepingHistory,
}

var historyLimit int

func init() {
	housekeepingHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of runs")
	housekeepingCmd.AddCommand(housekeepingRunCmd, housekeepingHistoryCmd)
	rootCmd.AddCommand(housekeepingCmd)
}

func runHousekeeping(cmd *cobra.Command, _ []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}
	schedules, err := scheduler.Schedules(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	cmd.Printf("%-18s %-9s %-20s %-20s %s\n", "TASK", "INTERVAL", "NEXT RUN", "LAST SUCCESS", "STATUS")
	for _, s := range schedules {
		interval, next := "off", "-"
		if s.Enabled {
			interval = s.Interval.String()
			next = formatTime(s.NextRun)
		}
		status := "ok"
		switch {
		case s.LastRun.IsZero():
			status = "never run"
		case s.LastError != "":
			status = fmt.Sprintf("failing (%dx): %s", s.ConsecutiveFailures, s.LastError)
		}
		cmd.Printf("%-18s %-9s %-20s %-20s %s\n", s.Task, interval, next, formatTime(s.LastSuccess), status)
	}
	return nil
}

func runHousekeepingRun(cmd *cobra.Command, args []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}
	run, err := scheduler.RunNow(cmd.Context(), domain.HousekeepingTask(args[0]))
	if run.StartedAt.IsZero() {
		return err
	}
	if err != nil {
		return fmt.Errorf("task failed after %s: %w", run.Duration().Round(time.Millisecond), err)
	}
	cmd.Printf("%s finished in %s, %d affected\n", run.Task, run.Duration().Round(time.Millisecond), run.Affected)
	return nil
}

func runHousekeepingHistory(cmd *cobra.Command, args []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}
	runs, err := scheduler.History(cmd.Context(), domain.HousekeepingTask(args[0]), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		outcome := fmt.Sprintf("%d affected", r.Affected)
		if !r.OK() {
			outcome = "error: " + r.Error
		}
		cmd.Printf("%s  %8s  %s\n", r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond), outcome)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
