package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownExpression_Validate(t *testing.T) {
	tests := []struct {
		name    string
		expr    KnownExpression
		wantErr error
	}{
		{
			name: "regex by default",
			expr: KnownExpression{ID: "e1", VendorID: "v1", Pattern: `ACME\s+GmbH`},
		},
		{
			name: "text kind",
			expr: KnownExpression{ID: "e2", VendorID: "v1", Pattern: "Acme GmbH", Kind: ExpressionText},
		},
		{
			name:    "missing vendor",
			expr:    KnownExpression{ID: "e3", Pattern: "x"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing pattern",
			expr:    KnownExpression{ID: "e4", VendorID: "v1"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown kind",
			expr:    KnownExpression{ID: "e5", VendorID: "v1", Pattern: "x", Kind: "glob"},
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expr.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestKnownExpression_EffectiveKind(t *testing.T) {
	e := KnownExpression{}
	assert.Equal(t, ExpressionRegex, e.EffectiveKind())

	e.Kind = ExpressionText
	assert.Equal(t, ExpressionText, e.EffectiveKind())
}

func TestMatchResult(t *testing.T) {
	assert.False(t, Unmatched().Matched)

	m := MatchResult{Matched: true, Span: [2]int{4, 10}}
	assert.Equal(t, 6, m.SpanLength())
}
