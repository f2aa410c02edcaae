package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMarkerPrefix is the payload prefix that identifies a separator sheet.
const DefaultMarkerPrefix = "SEP"

// MarkerPolicy decides what happens to the page that carries a marker.
type MarkerPolicy string

// Available marker policies. There is deliberately no default: every
// mandate must state which one it uses.
const (
	// MarkerPolicyKeep makes the marker page the first page of the next document.
	MarkerPolicyKeep MarkerPolicy = "keep"

	// MarkerPolicyDrop excludes the marker page from every document.
	MarkerPolicyDrop MarkerPolicy = "drop"
)

// IsValid returns true if the policy is recognised.
func (p MarkerPolicy) IsValid() bool {
	return p == MarkerPolicyKeep || p == MarkerPolicyDrop
}

// String returns the string representation.
func (p MarkerPolicy) String() string {
	return string(p)
}

// RetentionPolicy controls how long diagnostic artifacts are kept.
type RetentionPolicy struct {
	// MaxAge is the age after which quarantined batches and failure records are purged.
	// Zero disables purging.
	MaxAge time.Duration
}

// Expired reports whether an artifact modified at modTime is past retention.
func (r RetentionPolicy) Expired(modTime, now time.Time) bool {
	if r.MaxAge <= 0 {
		return false
	}
	return now.Sub(modTime) > r.MaxAge
}

// Mandate is a tenant whose batches are processed under its own
// configuration and pattern set. A Mandate value is an immutable
// snapshot; refreshes produce a new value.
type Mandate struct {
	// ID is the unique mandate identifier.
	ID string

	// Name is a human-readable name.
	Name string

	// InputDir is polled for new batch files.
	InputDir string

	// ArchiveDir receives successfully processed batches.
	ArchiveDir string

	// DiagnosticsDir receives quarantined batches and failure records.
	DiagnosticsDir string

	// PollInterval is the sleep between polling cycles.
	PollInterval time.Duration

	// Retention applies to the diagnostics directory.
	Retention RetentionPolicy

	// PatternVersion identifies the revision of the mandate's KnownExpression set.
	// A change in version invalidates cached expressions.
	PatternVersion int

	// MarkerPolicy decides whether marker pages are kept or dropped.
	MarkerPolicy MarkerPolicy

	// MarkerPrefix identifies separator payloads. Defaults to DefaultMarkerPrefix.
	MarkerPrefix string

	// Enabled indicates whether a worker should run for this mandate.
	Enabled bool

	// UpdatedAt is when the mandate configuration last changed.
	UpdatedAt time.Time
}

// EffectiveMarkerPrefix returns the configured marker prefix or the default.
func (m *Mandate) EffectiveMarkerPrefix() string {
	if strings.TrimSpace(m.MarkerPrefix) == "" {
		return DefaultMarkerPrefix
	}
	return m.MarkerPrefix
}

// Validate checks the mandate is usable by a worker.
func (m *Mandate) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: mandate id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(m.InputDir) == "" {
		return fmt.Errorf("%w: mandate %s: input directory is required", ErrInvalidInput, m.ID)
	}
	if strings.TrimSpace(m.ArchiveDir) == "" {
		return fmt.Errorf("%w: mandate %s: archive directory is required", ErrInvalidInput, m.ID)
	}
	if strings.TrimSpace(m.DiagnosticsDir) == "" {
		return fmt.Errorf("%w: mandate %s: diagnostics directory is required", ErrInvalidInput, m.ID)
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("%w: mandate %s: poll interval must be positive", ErrInvalidInput, m.ID)
	}
	if !m.MarkerPolicy.IsValid() {
		return fmt.Errorf("%w: mandate %s: marker policy must be %q or %q, got %q",
			ErrInvalidInput, m.ID, MarkerPolicyKeep, MarkerPolicyDrop, m.MarkerPolicy)
	}
	return nil
}
