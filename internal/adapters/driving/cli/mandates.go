package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

var (
	resultsBatch  string
	resultsStatus string
	resultsSince  time.Duration
	resultsLimit  int
	resultsJSON   bool
)

var mandatesCmd = &cobra.Command{
	Use:   "mandates",
	Short: "List configured mandates",
	Args:  cobra.NoArgs,
	RunE:  runMandates,
}

var resultsCmd = &cobra.Command{
	Use:   "results [mandate-id]",
	Short: "Show stored results of a mandate",
	Long:  `Lists stored OCR results, newest first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsBatch, "batch", "", "only results of this batch id")
	resultsCmd.Flags().StringVar(&resultsStatus, "status", "", "only results with this status (ok, partial, unmatched, failed)")
	resultsCmd.Flags().DurationVar(&resultsSince, "since", 0, "only results stored within this duration")
	resultsCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 20, "maximum number of results")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "output results as JSON")

	rootCmd.AddCommand(mandatesCmd)
	rootCmd.AddCommand(resultsCmd)
}

func runMandates(cmd *cobra.Command, _ []string) error {
	if mandateService == nil {
		return errors.New("mandate service not configured")
	}

	mandates, err := mandateService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list mandates: %w", err)
	}
	if len(mandates) == 0 {
		cmd.Println("No mandates configured. Load some with 'scanpipe seed'.")
		return nil
	}

	cmd.Printf("%-16s %-8s %-6s %-8s %-8s %s\n", "ID", "ENABLED", "POLICY", "POLL", "PATTERNS", "INPUT")
	for i := range mandates {
		m := &mandates[i]
		enabled := "no"
		if m.Enabled {
			enabled = "yes"
		}
		cmd.Printf("%-16s %-8s %-6s %-8s v%-7d %s\n",
			m.ID, enabled, m.MarkerPolicy, m.PollInterval, m.PatternVersion, m.InputDir)
	}
	return nil
}

func runResults(cmd *cobra.Command, args []string) error {
	if mandateService == nil {
		return errors.New("mandate service not configured")
	}

	filter := domain.ResultFilter{
		BatchID: resultsBatch,
		Status:  domain.ResultStatus(resultsStatus),
		Limit:   resultsLimit,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return fmt.Errorf("unknown status %q", resultsStatus)
	}
	if resultsSince > 0 {
		filter.Since = time.Now().Add(-resultsSince)
	}

	results, err := mandateService.Results(cmd.Context(), args[0], filter)
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	if resultsJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i := range results {
		r := &results[i]
		cmd.Printf("%s  %s (%s)\n", r.CreatedAt.Format(time.DateTime), r.BatchName, shortID(r.BatchID))
		printResult(cmd, r)
	}
	return nil
}
