package domain

import (
	"fmt"
	"image"
	"time"
)

// Batch is one discovered input file for a mandate.
// It is consumed exactly once and then archived or quarantined.
type Batch struct {
	// ID is the hex SHA-256 of the file content.
	// A re-delivered identical file maps to the same batch.
	ID string

	// MandateID links the batch to its mandate.
	MandateID string

	// SourcePath is the current location of the file.
	SourcePath string

	// Name is the original file name.
	Name string

	// DiscoveredAt is when the batch was found in the input location.
	DiscoveredAt time.Time

	// PageCount is set once the batch has been opened.
	PageCount int

	// Resumed is true when the batch was claimed in an earlier cycle
	// and is being picked up again.
	Resumed bool
}

// Page is one rendered page of a batch. Pages are immutable once rendered.
type Page struct {
	// Index is the 1-based page number within the batch.
	Index int

	// Image is the raster used for marker detection and OCR.
	Image image.Image

	// Codes holds non-marker machine-readable payloads found on the page.
	Codes []string
}

// PageRange is an inclusive, 1-based range of page indices.
type PageRange struct {
	First int
	Last  int
}

// NewPageRange creates a range, swapping bounds if needed.
func NewPageRange(first, last int) PageRange {
	if first > last {
		first, last = last, first
	}
	return PageRange{First: first, Last: last}
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	if r.IsZero() {
		return 0
	}
	return r.Last - r.First + 1
}

// IsZero reports whether the range is unset.
func (r PageRange) IsZero() bool {
	return r.First == 0 && r.Last == 0
}

// Contains reports whether the page index lies inside the range.
func (r PageRange) Contains(index int) bool {
	return !r.IsZero() && index >= r.First && index <= r.Last
}

// Overlaps reports whether two ranges share at least one page.
func (r PageRange) Overlaps(other PageRange) bool {
	if r.IsZero() || other.IsZero() {
		return false
	}
	return r.First <= other.Last && other.First <= r.Last
}

// String returns a compact representation such as "3-5" or "7".
func (r PageRange) String() string {
	if r.First == r.Last {
		return fmt.Sprintf("%d", r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}
