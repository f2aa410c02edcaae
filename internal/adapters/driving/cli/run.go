package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run workers for every enabled mandate",
	Long: `Starts one polling worker per enabled mandate and the housekeeping
scheduler, then runs until interrupted. On SIGINT or SIGTERM every worker
finishes its current batch or is abandoned after the grace period.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	if supervisor == nil {
		return errors.New("supervisor not configured")
	}

	cmd.Println("Starting workers. Press Ctrl+C to stop.")
	err := supervisor.Run(cmd.Context())

	printWorkerStatus(cmd, supervisor.Status())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func printWorkerStatus(cmd *cobra.Command, statuses []domain.WorkerStatus) {
	if len(statuses) == 0 {
		cmd.Println("No workers ran.")
		return
	}
	cmd.Println()
	cmd.Printf("%-16s %-10s %7s %9s %11s %8s  %s\n",
		"MANDATE", "STATE", "CYCLES", "PROCESSED", "QUARANTINED", "DEFERRED", "LAST CYCLE")
	for _, s := range statuses {
		state := string(s.State)
		if s.Unresponsive {
			state += "!"
		}
		last := "-"
		if !s.LastCycle.IsZero() {
			last = s.LastCycle.Format(time.RFC3339)
		}
		cmd.Printf("%-16s %-10s %7d %9d %11d %8d  %s\n",
			s.MandateID, state, s.Cycles, s.Processed, s.Quarantined, s.Deferred, last)
		if s.LastError != "" {
			cmd.Printf("  last error: %s\n", s.LastError)
		}
	}
}
