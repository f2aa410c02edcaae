package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
)

// Ensure BankValidator implements the interface.
var _ driving.BankValidator = (*BankValidator)(nil)

// ibanCandidate finds IBAN-like runs in free text. Groups of four may be
// separated by single spaces, as in the printed form.
var ibanCandidate = regexp.MustCompile(`(?i)\b[A-Z]{2}[0-9]{2}(?:[ ]?[A-Z0-9]{4}){2,7}(?:[ ]?[A-Z0-9]{1,3})?`)

// Payload headers of payment QR codes and the line carrying the IBAN.
const (
	swissQRBillHeader = "SPC"
	swissQRBillLine   = 3
	epcQRHeader       = "BCD"
	epcQRLine         = 6
)

// bankLookup is the part of the repository the validator needs.
type bankLookup interface {
	LookupBank(ctx context.Context, mc *MandateContext, country, code string) (*domain.Bank, bool, error)
	SystemContext() *MandateContext
}

// BankValidator validates IBAN candidates and cross-references them
// against the bank reference table.
type BankValidator struct {
	banks bankLookup
}

// NewBankValidator creates a validator backed by the repository.
func NewBankValidator(banks bankLookup) *BankValidator {
	return &BankValidator{banks: banks}
}

// Check validates a single candidate outside any mandate.
func (v *BankValidator) Check(ctx context.Context, candidate string) (domain.BankRecord, error) {
	return v.Validate(ctx, v.banks.SystemContext(), candidate)
}

// Validate validates a candidate and looks up its bank. Malformed input
// yields an invalid record; only a failed table load returns an error.
func (v *BankValidator) Validate(ctx context.Context, mc *MandateContext, candidate string) (domain.BankRecord, error) {
	record := domain.BankRecord{Candidate: candidate}

	iban, err := domain.ParseIBAN(candidate)
	if err != nil {
		record.Status = domain.IBANInvalid
		record.Reason = strings.TrimPrefix(err.Error(), domain.ErrInvalidIBAN.Error()+": ")
		return record, nil
	}
	record.IBAN = iban.String()
	record.Status = domain.IBANValidUnknownBank

	code := iban.BankCode()
	if code == "" {
		return record, nil
	}
	bank, ok, err := v.banks.LookupBank(ctx, mc, iban.Country, code)
	if err != nil {
		return record, err
	}
	if ok {
		record.Status = domain.IBANValidWithBank
		record.Bank = bank
	}
	return record, nil
}

// ValidateDocument validates every IBAN candidate of a document's text and
// page codes. Records follow candidate order.
func (v *BankValidator) ValidateDocument(ctx context.Context, mc *MandateContext, text string, codes []string) ([]domain.BankRecord, error) {
	candidates := FindIBANCandidates(text, codes)
	if len(candidates) == 0 {
		return nil, nil
	}
	records := make([]domain.BankRecord, 0, len(candidates))
	for _, c := range candidates {
		record, err := v.Validate(ctx, mc, c)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// FindIBANCandidates returns IBAN-like strings found in payment QR payloads
// and free text, deduplicated by their electronic form. QR payloads come
// first since they are machine-read.
func FindIBANCandidates(text string, codes []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(c string) {
		key := domain.NormaliseIBAN(c)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	for _, code := range codes {
		if c, ok := ibanFromPaymentCode(code); ok {
			add(c)
		}
	}
	for _, m := range ibanCandidate.FindAllString(text, -1) {
		if c, ok := trimCandidate(m); ok {
			add(c)
		}
	}
	return out
}

// ibanFromPaymentCode extracts the account line of a Swiss QR-bill or
// EPC (SEPA credit transfer) payload.
func ibanFromPaymentCode(payload string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n")
	var line int
	switch strings.TrimSpace(lines[0]) {
	case swissQRBillHeader:
		line = swissQRBillLine
	case epcQRHeader:
		line = epcQRLine
	default:
		return "", false
	}
	if len(lines) <= line {
		return "", false
	}
	c := strings.TrimSpace(lines[line])
	return c, c != ""
}

// trimCandidate drops text the pattern captured past the country's IBAN
// length and rejects unknown countries.
func trimCandidate(match string) (string, bool) {
	country := strings.ToUpper(match[:2])
	if !domain.IsSupportedCountry(country) {
		return "", false
	}
	want := domain.IBANLength(country)

	var b strings.Builder
	n := 0
	for _, r := range match {
		if n == want {
			break
		}
		b.WriteRune(r)
		if r != ' ' {
			n++
		}
	}
	return strings.TrimSpace(b.String()), true
}
