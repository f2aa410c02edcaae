package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

var ibanCmd = &cobra.Command{
	Use:   "iban [candidate...]",
	Short: "Validate IBANs against the bank table",
	Long: `Checks each candidate's structure and checksum and looks up its bank.
Quote candidates that contain spaces.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIBAN,
}

func init() {
	rootCmd.AddCommand(ibanCmd)
}

func runIBAN(cmd *cobra.Command, args []string) error {
	if bankValidator == nil {
		return errors.New("bank validator not configured")
	}

	invalid := 0
	for _, candidate := range args {
		rec, err := bankValidator.Check(cmd.Context(), candidate)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		switch rec.Status {
		case domain.IBANValidWithBank:
			cmd.Printf("%-20s %s  %s", rec.Status, printable(rec.IBAN), rec.Bank.Name)
			if rec.Bank.BIC != "" {
				cmd.Printf(" (%s)", rec.Bank.BIC)
			}
			cmd.Println()
		case domain.IBANValidUnknownBank:
			cmd.Printf("%-20s %s\n", rec.Status, printable(rec.IBAN))
		default:
			invalid++
			cmd.Printf("%-20s %s  %s\n", rec.Status, candidate, rec.Reason)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d candidates invalid", invalid, len(args))
	}
	return nil
}

// printable groups a validated IBAN in fours.
func printable(electronic string) string {
	iban, err := domain.ParseIBAN(electronic)
	if err != nil {
		return electronic
	}
	return iban.Printable()
}
