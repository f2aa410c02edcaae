// Package codec converts the structured parts of domain records to and
// from the JSON columns used by the relational stores.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// jsonNull is the JSON representation of null.
const jsonNull = "null"

// ResultColumns holds the JSON-encoded columns of an OcrResult row.
type ResultColumns struct {
	Banks       string
	Routing     string
	Methods     string
	FailedPages string
}

type bankRow struct {
	Candidate string `json:"candidate"`
	IBAN      string `json:"iban,omitempty"`
	Status    string `json:"status"`
	Country   string `json:"bank_country,omitempty"`
	Code      string `json:"bank_code,omitempty"`
	Name      string `json:"bank_name,omitempty"`
	BIC       string `json:"bank_bic,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// EncodeResult marshals the structured fields of r.
func EncodeResult(r *domain.OcrResult) (ResultColumns, error) {
	banks := make([]bankRow, 0, len(r.Banks))
	for _, b := range r.Banks {
		row := bankRow{
			Candidate: b.Candidate,
			IBAN:      b.IBAN,
			Status:    string(b.Status),
			Reason:    b.Reason,
		}
		if b.Bank != nil {
			row.Country, row.Code, row.Name, row.BIC = b.Bank.Country, b.Bank.Code, b.Bank.Name, b.Bank.BIC
		}
		banks = append(banks, row)
	}

	var (
		cols ResultColumns
		err  error
	)
	if cols.Banks, err = marshal(banks); err != nil {
		return cols, fmt.Errorf("marshalling banks: %w", err)
	}
	if cols.Routing, err = marshal(r.Routing); err != nil {
		return cols, fmt.Errorf("marshalling routing: %w", err)
	}
	if cols.Methods, err = marshal(r.Methods); err != nil {
		return cols, fmt.Errorf("marshalling methods: %w", err)
	}
	if cols.FailedPages, err = marshal(r.FailedPages); err != nil {
		return cols, fmt.Errorf("marshalling failed pages: %w", err)
	}
	return cols, nil
}

// DecodeResult unmarshals cols into r.
func DecodeResult(cols ResultColumns, r *domain.OcrResult) error {
	var banks []bankRow
	if err := unmarshal(cols.Banks, &banks); err != nil {
		return fmt.Errorf("unmarshalling banks: %w", err)
	}
	r.Banks = nil
	for _, row := range banks {
		rec := domain.BankRecord{
			Candidate: row.Candidate,
			IBAN:      row.IBAN,
			Status:    domain.IBANStatus(row.Status),
			Reason:    row.Reason,
		}
		if row.Code != "" {
			rec.Bank = &domain.Bank{Country: row.Country, Code: row.Code, Name: row.Name, BIC: row.BIC}
		}
		r.Banks = append(r.Banks, rec)
	}

	if err := unmarshal(cols.Routing, &r.Routing); err != nil {
		return fmt.Errorf("unmarshalling routing: %w", err)
	}
	if err := unmarshal(cols.Methods, &r.Methods); err != nil {
		return fmt.Errorf("unmarshalling methods: %w", err)
	}
	if err := unmarshal(cols.FailedPages, &r.FailedPages); err != nil {
		return fmt.Errorf("unmarshalling failed pages: %w", err)
	}
	return nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshal(s string, v any) error {
	if s == "" || s == jsonNull {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
