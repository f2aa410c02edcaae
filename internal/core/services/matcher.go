package services

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// compiledExpression pairs an expression with its compiled pattern.
type compiledExpression struct {
	expr domain.KnownExpression
	re   *regexp.Regexp
}

// ExpressionSet is an immutable, compiled pattern set for one mandate.
// A refresh builds a new set; a set is never modified after compilation.
type ExpressionSet struct {
	mandateID string
	version   int
	compiled  []compiledExpression
}

// CompileExpressions compiles a mandate's expressions. Expressions that fail
// validation or compilation are skipped and reported in the returned errors.
// Missing ordinals are assigned from slice position.
func CompileExpressions(mandateID string, version int, exprs []domain.KnownExpression) (*ExpressionSet, []error) {
	set := &ExpressionSet{mandateID: mandateID, version: version}
	var errs []error

	for i, e := range exprs {
		if e.Ordinal == 0 {
			e.Ordinal = i + 1
		}
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		re, err := compilePattern(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: expression %s: %w", domain.ErrInvalidInput, e.ID, err))
			continue
		}
		set.compiled = append(set.compiled, compiledExpression{expr: e, re: re})
	}

	slices.SortStableFunc(set.compiled, func(a, b compiledExpression) int {
		if c := cmp.Compare(b.expr.Priority, a.expr.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.expr.Ordinal, b.expr.Ordinal)
	})
	return set, errs
}

func compilePattern(e domain.KnownExpression) (*regexp.Regexp, error) {
	if e.EffectiveKind() == domain.ExpressionText {
		return regexp.Compile(TolerantPattern(e.Pattern))
	}
	return regexp.Compile(e.Pattern)
}

// TolerantPattern turns a literal phrase into a case-insensitive regular
// expression that accepts any amount of whitespace between characters,
// as OCR output often splits or merges words.
func TolerantPattern(phrase string) string {
	var parts []string
	for _, r := range phrase {
		if unicode.IsSpace(r) {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return `(?i)` + strings.Join(parts, `\s*`)
}

// Len returns the number of usable expressions.
func (s *ExpressionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.compiled)
}

// Version returns the pattern version the set was compiled from.
func (s *ExpressionSet) Version() int {
	if s == nil {
		return 0
	}
	return s.version
}

// MandateID returns the owning mandate.
func (s *ExpressionSet) MandateID() string {
	if s == nil {
		return ""
	}
	return s.mandateID
}

// Match evaluates every expression against text and returns the winner:
// highest priority, then longest matched span, then lowest ordinal.
// No match returns domain.Unmatched().
func (s *ExpressionSet) Match(text string) domain.MatchResult {
	best := domain.Unmatched()
	if s == nil || text == "" {
		return best
	}

	var bestOrdinal int
	for _, c := range s.compiled {
		span, ok := longestMatch(c.re, text)
		if !ok {
			continue
		}
		candidate := domain.MatchResult{
			Matched:      true,
			VendorID:     c.expr.VendorID,
			ExpressionID: c.expr.ID,
			Priority:     c.expr.Priority,
			Span:         span,
			SpanText:     text[span[0]:span[1]],
		}
		if !best.Matched || beats(candidate, c.expr.Ordinal, best, bestOrdinal) {
			best = candidate
			bestOrdinal = c.expr.Ordinal
		}
	}
	return best
}

func beats(a domain.MatchResult, aOrdinal int, b domain.MatchResult, bOrdinal int) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.SpanLength() != b.SpanLength() {
		return a.SpanLength() > b.SpanLength()
	}
	return aOrdinal < bOrdinal
}

// longestMatch returns the longest non-empty match of re in text, the
// earliest one on ties.
func longestMatch(re *regexp.Regexp, text string) ([2]int, bool) {
	var best [2]int
	found := false
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[1] == loc[0] {
			continue
		}
		if !found || loc[1]-loc[0] > best[1]-best[0] {
			best = [2]int{loc[0], loc[1]}
			found = true
		}
	}
	return best, found
}

// Matcher selects the vendor of a document.
type Matcher struct{}

// NewMatcher creates a matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match returns the best match of text in set. It never fails; a nil set
// or empty text yields domain.Unmatched().
func (m *Matcher) Match(text string, set *ExpressionSet) domain.MatchResult {
	return set.Match(text)
}
