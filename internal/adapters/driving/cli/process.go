package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
)

var (
	processJSON bool

	inspectPolicy string
	inspectPrefix string
	inspectDPI    int
)

var processCmd = &cobra.Command{
	Use:   "process [mandate-id] [file]",
	Short: "Process one batch file now",
	Long: `Runs the full pipeline for one PDF under a mandate's configuration and
stores the results. The file is left where it is.`,
	Args: cobra.ExactArgs(2),
	RunE: runProcess,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Show how a batch would be split",
	Long: `Renders a PDF, decodes its markers and prints the resulting documents.
Nothing is extracted or stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	processCmd.Flags().BoolVar(&processJSON, "json", false, "output the report as JSON")

	inspectCmd.Flags().StringVar(&inspectPolicy, "policy", "", "marker page policy: keep or drop (required)")
	inspectCmd.Flags().StringVar(&inspectPrefix, "prefix", domain.DefaultMarkerPrefix, "separator payload prefix")
	inspectCmd.Flags().IntVar(&inspectDPI, "dpi", 0, "render resolution (default from settings)")
	_ = inspectCmd.MarkFlagRequired("policy")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(inspectCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if batchProcessor == nil {
		return errors.New("batch processor not configured")
	}

	report, err := batchProcessor.ProcessFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if processJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Processed %s (%s): %d documents, %d stored, %d already stored, %s\n",
		report.BatchName, shortID(report.BatchID), report.Documents, report.Stored, report.Duplicates,
		report.Duration.Round(1e6))
	for i := range report.Results {
		printResult(cmd, &report.Results[i])
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	if batchProcessor == nil {
		return errors.New("batch processor not configured")
	}
	policy := domain.MarkerPolicy(strings.ToLower(inspectPolicy))
	if !policy.IsValid() {
		return fmt.Errorf("--policy must be %q or %q", domain.MarkerPolicyKeep, domain.MarkerPolicyDrop)
	}

	plan, err := batchProcessor.Inspect(cmd.Context(), args[0], driving.InspectOptions{
		Policy: policy,
		Prefix: inspectPrefix,
		DPI:    inspectDPI,
	})
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	cmd.Printf("%s: %d pages, %d markers, %d documents\n",
		args[0], plan.PageCount, len(plan.Markers), len(plan.Documents))
	if len(plan.Markers) > 0 {
		cmd.Println()
		cmd.Println("Markers:")
		for _, m := range plan.Markers {
			cmd.Printf("  page %-4d %s\n", m.Page, m.Payload)
		}
	}
	cmd.Println()
	cmd.Println("Documents:")
	for i, r := range plan.Documents {
		cmd.Printf("  [%d] pages %s\n", i+1, r)
	}
	if len(plan.Codes) > 0 {
		cmd.Println()
		cmd.Println("Other codes:")
		pages := make([]int, 0, len(plan.Codes))
		for page := range plan.Codes {
			pages = append(pages, page)
		}
		slices.Sort(pages)
		for _, page := range pages {
			for _, code := range plan.Codes[page] {
				cmd.Printf("  page %-4d %s\n", page, firstLine(code))
			}
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, r *domain.OcrResult) {
	vendor := r.VendorID
	if vendor == "" {
		vendor = "-"
	}
	cmd.Printf("  pages %-7s %-9s vendor=%s", r.Range, r.Status, vendor)
	for _, b := range r.Banks {
		if b.Status.IsValid() {
			cmd.Printf(" iban=%s", b.IBAN)
		}
	}
	if len(r.FailedPages) > 0 {
		cmd.Printf(" failed-pages=%v", r.FailedPages)
	}
	if r.Error != "" {
		cmd.Printf(" error=%q", r.Error)
	}
	cmd.Println()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
