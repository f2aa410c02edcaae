package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	// For OCR results this means the document was already processed.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown store, notifier or expression kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// Store Errors.

	// ErrStoreUnavailable indicates the relational store could not be reached
	// within the configured number of connection attempts.
	// The pipeline run for the mandate is deferred to the next poll cycle.
	ErrStoreUnavailable = errors.New("store unavailable")

	// Extraction Errors.

	// ErrExtractionFailed indicates neither native extraction nor OCR produced text for a page.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrExtractionTimeout indicates an extraction capability exceeded its timeout.
	ErrExtractionTimeout = errors.New("extraction timed out")

	// ErrMarkerDecode indicates a page image could not be decoded for markers.
	// The page is treated as an ordinary content page.
	ErrMarkerDecode = errors.New("marker decode failed")

	// Validation Errors.

	// ErrInvalidIBAN indicates a candidate string is not a structurally valid IBAN.
	ErrInvalidIBAN = errors.New("invalid IBAN")

	// Batch Errors.

	// ErrEmptyBatch indicates a batch has no pages.
	ErrEmptyBatch = errors.New("batch has no pages")

	// ErrUnreadableBatch indicates a batch file could not be opened or rendered.
	ErrUnreadableBatch = errors.New("batch unreadable")

	// ErrNoDocuments indicates segmentation produced no documents,
	// e.g. a batch consisting solely of dropped marker pages.
	ErrNoDocuments = errors.New("batch produced no documents")

	// ErrWorkerStopped indicates an operation was attempted on a stopped worker.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrNotifierClosed indicates the invalidation notifier was closed.
	ErrNotifierClosed = errors.New("notifier closed")
)

// ErrorClass is the closed error taxonomy used by the pipeline to decide
// how a failure is handled.
type ErrorClass string

// Error classes.
const (
	// ErrorClassNone is returned for a nil error.
	ErrorClassNone ErrorClass = ""

	// ErrorClassTransientStore covers network and connection failures of the store.
	// Retried up to the configured bound, then deferred to the next cycle.
	ErrorClassTransientStore ErrorClass = "transient_store"

	// ErrorClassExtraction covers engine timeouts and corrupt pages.
	// The page or document degrades to a partial or failed extraction.
	ErrorClassExtraction ErrorClass = "extraction"

	// ErrorClassMarkerDecode covers QR decode failures. Never fatal.
	ErrorClassMarkerDecode ErrorClass = "marker_decode"

	// ErrorClassValidation covers malformed IBANs and invalid input.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict covers duplicate persistence. Treated as a no-op.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassCancelled covers context cancellation and deadline expiry of the caller.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnexpected covers everything else. The current batch is quarantined.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// Classify maps an error to its ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, ErrStoreUnavailable):
		return ErrorClassTransientStore
	case errors.Is(err, ErrAlreadyExists):
		return ErrorClassConflict
	case errors.Is(err, ErrExtractionTimeout), errors.Is(err, ErrExtractionFailed):
		return ErrorClassExtraction
	case errors.Is(err, ErrMarkerDecode):
		return ErrorClassMarkerDecode
	case errors.Is(err, ErrInvalidIBAN), errors.Is(err, ErrInvalidInput):
		return ErrorClassValidation
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	default:
		return ErrorClassUnexpected
	}
}

// IsRetryable reports whether the error should defer the batch to a later
// cycle instead of quarantining it.
func IsRetryable(err error) bool {
	c := Classify(err)
	return c == ErrorClassTransientStore || c == ErrorClassCancelled
}

// BatchError describes a failure while processing one batch.
type BatchError struct {
	// MandateID identifies the mandate the batch belongs to.
	MandateID string

	// BatchID identifies the batch.
	BatchID string

	// Op is the pipeline stage that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the error.
func (e *BatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mandate %s batch %s: %s: %v", e.MandateID, e.BatchID, e.Op, e.Err)
	}
	return fmt.Sprintf("mandate %s batch %s: %s", e.MandateID, e.BatchID, e.Op)
}

// Unwrap returns the underlying error.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panic inside batch processing.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
