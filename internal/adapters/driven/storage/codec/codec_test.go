package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

func TestResultColumns(t *testing.T) {
	in := &domain.OcrResult{
		Banks: []domain.BankRecord{
			{
				Candidate: "DE89 3704 0044 0532 0130 00",
				IBAN:      "DE89370400440532013000",
				Status:    domain.IBANValidWithBank,
				Bank:      &domain.Bank{Country: "DE", Code: "37040044", Name: "Commerzbank"},
			},
			{Candidate: "DE00 1234", Status: domain.IBANInvalid, Reason: "too short"},
		},
		Routing:     map[string]string{"doctype": "invoice"},
		Methods:     map[int]domain.ExtractionMethod{1: domain.ExtractionNative, 2: domain.ExtractionOCR},
		FailedPages: []int{3},
	}

	cols, err := EncodeResult(in)
	require.NoError(t, err)

	var out domain.OcrResult
	require.NoError(t, DecodeResult(cols, &out))

	assert.Equal(t, in.Banks, out.Banks)
	assert.Equal(t, in.Routing, out.Routing)
	assert.Equal(t, in.Methods, out.Methods)
	assert.Equal(t, in.FailedPages, out.FailedPages)
}

func TestDecodeResult_EmptyColumns(t *testing.T) {
	var out domain.OcrResult

	require.NoError(t, DecodeResult(ResultColumns{Routing: jsonNull}, &out))

	assert.Nil(t, out.Banks)
	assert.Nil(t, out.Routing)
	assert.Nil(t, out.FailedPages)
}

func TestDecodeResult_Corrupt(t *testing.T) {
	var out domain.OcrResult

	err := DecodeResult(ResultColumns{Methods: "{not json"}, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "methods")
}
