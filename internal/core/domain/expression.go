package domain

import "fmt"

// ExpressionKind describes how a KnownExpression pattern is interpreted.
type ExpressionKind string

// Available expression kinds.
const (
	// ExpressionRegex is a Go regular expression evaluated as written.
	ExpressionRegex ExpressionKind = "regex"

	// ExpressionText is a literal phrase matched case-insensitively,
	// tolerating OCR whitespace noise between characters.
	ExpressionText ExpressionKind = "text"
)

// IsValid returns true if the kind is recognised.
func (k ExpressionKind) IsValid() bool {
	return k == ExpressionRegex || k == ExpressionText
}

// KnownExpression is a mandate-scoped pattern used to recognise a vendor.
type KnownExpression struct {
	// ID is the unique expression identifier.
	ID string

	// MandateID scopes the expression.
	MandateID string

	// VendorID is the vendor reported when the expression wins.
	VendorID string

	// Pattern is the pattern text.
	Pattern string

	// Kind decides how Pattern is compiled. Empty means regex.
	Kind ExpressionKind

	// Priority orders competing matches; higher wins.
	Priority int

	// Ordinal is the insertion order, used as the final tie-breaker.
	Ordinal int
}

// EffectiveKind returns the expression kind, defaulting to regex.
func (e *KnownExpression) EffectiveKind() ExpressionKind {
	if e.Kind == "" {
		return ExpressionRegex
	}
	return e.Kind
}

// Validate checks the expression has the fields matching needs.
func (e *KnownExpression) Validate() error {
	if e.VendorID == "" {
		return fmt.Errorf("%w: expression %s: vendor id is required", ErrInvalidInput, e.ID)
	}
	if e.Pattern == "" {
		return fmt.Errorf("%w: expression %s: pattern is required", ErrInvalidInput, e.ID)
	}
	if !e.EffectiveKind().IsValid() {
		return fmt.Errorf("%w: expression %s: kind %q", ErrUnsupportedType, e.ID, e.Kind)
	}
	return nil
}

// MatchResult is the outcome of vendor matching for one document.
type MatchResult struct {
	// Matched is false for the explicit "unmatched" result.
	Matched bool

	// VendorID is the winning vendor.
	VendorID string

	// ExpressionID is the winning expression.
	ExpressionID string

	// Priority is the winning expression's priority.
	Priority int

	// Span is the [start, end) byte offset of the match in the document text.
	Span [2]int

	// SpanText is the matched text.
	SpanText string
}

// Unmatched returns the explicit no-match result.
func Unmatched() MatchResult {
	return MatchResult{}
}

// SpanLength returns the length in bytes of the matched span.
func (m MatchResult) SpanLength() int {
	return m.Span[1] - m.Span[0]
}
