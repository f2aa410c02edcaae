package driving

import (
	"context"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// BankValidator validates IBAN candidates and resolves their bank.
type BankValidator interface {
	// Check validates a candidate. Structural problems are reported in the
	// record's status, never as an error. An error means the bank table
	// could not be loaded.
	Check(ctx context.Context, candidate string) (domain.BankRecord, error)
}
