package cli

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driving"
)

func testReport() *domain.BatchReport {
	return &domain.BatchReport{
		MandateID:  "acme",
		BatchID:    "4f2a9c0d1e3b5a7c9e1f",
		BatchName:  "scan-001.pdf",
		Documents:  2,
		Stored:     1,
		Duplicates: 1,
		Duration:   1500 * time.Millisecond,
		Results: []domain.OcrResult{
			{
				Range:    domain.PageRange{First: 1, Last: 2},
				Status:   domain.ResultOK,
				VendorID: "telco",
				Banks: []domain.BankRecord{
					{IBAN: "DE89370400440532013000", Status: domain.IBANValidWithBank},
					{Candidate: "DE00", Status: domain.IBANInvalid},
				},
			},
			{
				Range:       domain.PageRange{First: 3, Last: 3},
				Status:      domain.ResultFailed,
				FailedPages: []int{3},
				Error:       "extraction failed",
			},
		},
	}
}

func TestProcessCmd(t *testing.T) {
	proc := &mockBatchProcessor{report: testReport()}
	cleanup := setServicesForTest(&Services{Processor: proc})
	defer cleanup()

	out, err := executeCommand("process", "acme", "/in/scan-001.pdf")

	require.NoError(t, err)
	assert.Equal(t, "acme", proc.mandate)
	assert.Equal(t, "/in/scan-001.pdf", proc.path)
	assert.Contains(t, out, "scan-001.pdf (4f2a9c0d1e3b): 2 documents, 1 stored, 1 already stored, 1.5s")
	assert.Contains(t, out, "vendor=telco iban=DE89370400440532013000\n")
	assert.Contains(t, out, "failed-pages=[3]")
	assert.Contains(t, out, `error="extraction failed"`)
}

func TestProcessCmd_JSON(t *testing.T) {
	cleanup := setServicesForTest(&Services{Processor: &mockBatchProcessor{report: testReport()}})
	defer cleanup()

	out, err := executeCommand("process", "--json", "acme", "/in/scan-001.pdf")

	require.NoError(t, err)
	var got domain.BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Documents)
}

func TestProcessCmd_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{})
		defer cleanup()

		_, err := executeCommand("process", "acme", "x.pdf")

		assert.ErrorContains(t, err, "batch processor not configured")
	})

	t.Run("missing arguments", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{Processor: &mockBatchProcessor{}})
		defer cleanup()

		_, err := executeCommand("process", "acme")

		assert.Error(t, err)
	})

	t.Run("pipeline failure", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{Processor: &mockBatchProcessor{err: domain.ErrUnreadableBatch}})
		defer cleanup()

		_, err := executeCommand("process", "acme", "x.pdf")

		assert.ErrorIs(t, err, domain.ErrUnreadableBatch)
	})
}

func TestInspectCmd(t *testing.T) {
	proc := &mockBatchProcessor{plan: &driving.SegmentationPlan{
		PageCount: 5,
		Markers:   []domain.Marker{{Page: 3, Payload: "SEP;doctype=invoice"}},
		Documents: []domain.PageRange{{First: 1, Last: 2}, {First: 4, Last: 5}},
		Codes:     map[int][]string{5: {"SPC\n0200\n1\nCH4431999123000889012"}},
	}}
	cleanup := setServicesForTest(&Services{Processor: proc})
	defer cleanup()

	out, err := executeCommand("inspect", "--policy", "DROP", "--dpi", "150", "/in/batch.pdf")

	require.NoError(t, err)
	assert.Equal(t, domain.MarkerPolicyDrop, proc.inspectO.Policy)
	assert.Equal(t, domain.DefaultMarkerPrefix, proc.inspectO.Prefix)
	assert.Equal(t, 150, proc.inspectO.DPI)
	assert.Contains(t, out, "5 pages, 1 markers, 2 documents")
	assert.Contains(t, out, "SEP;doctype=invoice")
	assert.Contains(t, out, "[2] pages 4-5")
	assert.Contains(t, out, "page 5    SPC")
	assert.NotContains(t, out, "CH4431999123000889012")
}

func TestInspectCmd_Errors(t *testing.T) {
	cleanup := setServicesForTest(&Services{Processor: &mockBatchProcessor{err: errors.New("render failed")}})
	defer cleanup()

	t.Run("policy is required", func(t *testing.T) {
		_, err := executeCommand("inspect", "/in/batch.pdf")

		assert.ErrorContains(t, err, "policy")
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := executeCommand("inspect", "--policy", "split", "/in/batch.pdf")

		assert.ErrorContains(t, err, "--policy must be")
	})

	t.Run("inspection failure", func(t *testing.T) {
		_, err := executeCommand("inspect", "--policy", "keep", "/in/batch.pdf")

		assert.ErrorContains(t, err, "render failed")
	})
}
