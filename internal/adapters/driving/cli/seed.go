package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var invalidateAll bool

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load mandates, expressions and banks from a YAML file",
	Long: `Upserts the reference data in a seed file into the store and tells
running workers to reload it.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [mandate-id]",
	Short: "Drop cached reference data",
	Long: `Clears cached mandates, expressions and bank data so the next cycle reads
them from the store. Without an argument every mandate is invalidated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInvalidate,
}

func init() {
	invalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "invalidate every mandate")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(invalidateCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if mandateService == nil {
		return errors.New("mandate service not configured")
	}

	set, err := mandateService.Seed(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	expressions := 0
	for _, exprs := range set.Expressions {
		expressions += len(exprs)
	}
	cmd.Printf("Loaded %d mandates, %d expressions, %d banks from %s\n",
		len(set.Mandates), expressions, len(set.Banks), args[0])
	return nil
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	if mandateService == nil {
		return errors.New("mandate service not configured")
	}
	if invalidateAll && len(args) > 0 {
		return errors.New("--all cannot be combined with a mandate id")
	}

	target := driven.AllMandates
	if len(args) == 1 {
		target = args[0]
	}

	if err := mandateService.Invalidate(cmd.Context(), target); err != nil {
		return fmt.Errorf("invalidate failed: %w", err)
	}

	if target == driven.AllMandates {
		cmd.Println("Invalidated all mandates.")
	} else {
		cmd.Printf("Invalidated mandate %s.\n", target)
	}
	return nil
}
