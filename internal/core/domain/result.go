package domain

import (
	"time"
)

// ResultStatus is the terminal processing status of an OcrResult.
type ResultStatus string

// Result statuses.
const (
	// ResultOK means every page was extracted and a vendor was matched.
	ResultOK ResultStatus = "ok"

	// ResultPartial means some pages failed extraction but text was available.
	ResultPartial ResultStatus = "partial"

	// ResultUnmatched means text was extracted but no expression matched.
	ResultUnmatched ResultStatus = "unmatched"

	// ResultFailed means no text was available or the batch failed.
	ResultFailed ResultStatus = "failed"
)

// IsValid returns true if the status is recognised.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultOK, ResultPartial, ResultUnmatched, ResultFailed:
		return true
	default:
		return false
	}
}

// OcrResult is the persisted record for one segmented document.
// It is insert-only: a reprocessed batch produces a new result or
// is recognised as already stored, never an update.
type OcrResult struct {
	// ID is the unique result identifier.
	ID string

	// MandateID is the owning mandate.
	MandateID string

	// BatchID identifies the source batch (content digest).
	BatchID string

	// BatchName is the source file name.
	BatchName string

	// Range is the page range of the document within the batch.
	Range PageRange

	// VendorID is the matched vendor, empty when unmatched.
	VendorID string

	// ExpressionID is the winning expression, empty when unmatched.
	ExpressionID string

	// MatchedText is the text of the winning match span.
	MatchedText string

	// Text is the assembled document text.
	Text string

	// Banks holds every IBAN candidate found and its outcome.
	Banks []BankRecord

	// Routing holds marker metadata for the document.
	Routing map[string]string

	// Methods records the extraction method per page index.
	Methods map[int]ExtractionMethod

	// FailedPages lists pages whose extraction failed.
	FailedPages []int

	// Status is the terminal status.
	Status ResultStatus

	// ErrorClass classifies Error when the status is failed.
	ErrorClass ErrorClass

	// Error is the failure message, if any.
	Error string

	// ProcessedAt is when the pipeline finished the document.
	ProcessedAt time.Time

	// CreatedAt is when the record was stored.
	CreatedAt time.Time
}

// Key returns the uniqueness key of the result.
func (r *OcrResult) Key() ResultKey {
	return ResultKey{
		MandateID: r.MandateID,
		BatchID:   r.BatchID,
		First:     r.Range.First,
		Last:      r.Range.Last,
	}
}

// ResultKey identifies a result for idempotent persistence.
type ResultKey struct {
	MandateID string
	BatchID   string
	First     int
	Last      int
}

// DeriveStatus computes the status of a document from its extraction and
// matching outcome.
func DeriveStatus(doc *SegmentedDocument, match MatchResult) ResultStatus {
	switch {
	case !doc.Extracted():
		return ResultFailed
	case len(doc.FailedPages()) > 0:
		return ResultPartial
	case !match.Matched:
		return ResultUnmatched
	default:
		return ResultOK
	}
}

// NewFailureResult builds the record stored when a whole batch fails.
// The range spans the batch when its page count is known.
func NewFailureResult(batch *Batch, err error, now time.Time) OcrResult {
	r := OcrResult{
		MandateID:   batch.MandateID,
		BatchID:     batch.ID,
		BatchName:   batch.Name,
		Status:      ResultFailed,
		ErrorClass:  Classify(err),
		ProcessedAt: now,
	}
	if batch.PageCount > 0 {
		r.Range = PageRange{First: 1, Last: batch.PageCount}
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ResultFilter narrows result listings.
type ResultFilter struct {
	// BatchID restricts results to one batch when set.
	BatchID string

	// Status restricts results to one status when set.
	Status ResultStatus

	// Since excludes results created before this time when non-zero.
	Since time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}
