package domain

// IBANStatus is the tri-state outcome of bank data validation.
type IBANStatus string

// Validation outcomes.
const (
	// IBANValidWithBank means the IBAN is valid and its bank is in the reference table.
	IBANValidWithBank IBANStatus = "valid_with_bank"

	// IBANValidUnknownBank means the IBAN is valid but its bank is not in the reference table.
	IBANValidUnknownBank IBANStatus = "valid_unknown_bank"

	// IBANInvalid means the candidate is not a structurally valid IBAN.
	IBANInvalid IBANStatus = "invalid"
)

// IsValid reports whether the status denotes a structurally valid IBAN.
func (s IBANStatus) IsValid() bool {
	return s == IBANValidWithBank || s == IBANValidUnknownBank
}

// Bank is one entry of the bank reference table.
type Bank struct {
	// Country is the ISO country code.
	Country string

	// Code is the national bank identifier (BLZ, IID, sort code prefix, ...).
	Code string

	// Name is the institution name.
	Name string

	// BIC is the SWIFT code, if known.
	BIC string
}

// Key returns the lookup key of the bank within the reference table.
func (b Bank) Key() string {
	return BankKey(b.Country, b.Code)
}

// BankKey builds the reference table key for a country and bank code.
func BankKey(country, code string) string {
	return country + ":" + code
}

// BankRecord is a validated or rejected IBAN candidate found in a document.
type BankRecord struct {
	// Candidate is the raw text that was validated.
	Candidate string

	// IBAN is the electronic form; empty when Status is IBANInvalid.
	IBAN string

	// Status is the validation outcome.
	Status IBANStatus

	// Bank is set when Status is IBANValidWithBank.
	Bank *Bank

	// Reason explains an invalid outcome.
	Reason string
}
