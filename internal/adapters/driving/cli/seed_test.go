package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

func TestSeedCmd(t *testing.T) {
	t.Run("loads file", func(t *testing.T) {
		svc := &mockMandateService{seed: &domain.SeedSet{
			Mandates: []domain.Mandate{{ID: "acme"}, {ID: "globex"}},
			Expressions: map[string][]domain.KnownExpression{
				"acme":   {{ID: "e1"}, {ID: "e2"}},
				"globex": {{ID: "e3"}},
			},
			Banks: []domain.Bank{{Country: "DE", Code: "37040044"}},
		}}
		cleanup := setServicesForTest(&Services{Mandates: svc})
		defer cleanup()

		out, err := executeCommand("seed", "testdata/seed.yaml")

		require.NoError(t, err)
		assert.Equal(t, "testdata/seed.yaml", svc.seeded)
		assert.Contains(t, out, "Loaded 2 mandates, 3 expressions, 1 banks from testdata/seed.yaml")
	})

	t.Run("invalid file", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{Mandates: &mockMandateService{err: domain.ErrInvalidInput}})
		defer cleanup()

		_, err := executeCommand("seed", "bad.yaml")

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestInvalidateCmd(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   string
		output string
	}{
		{"single mandate", []string{"invalidate", "acme"}, "acme", "Invalidated mandate acme."},
		{"no argument", []string{"invalidate"}, driven.AllMandates, "Invalidated all mandates."},
		{"all flag", []string{"invalidate", "--all"}, driven.AllMandates, "Invalidated all mandates."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMandateService{}
			cleanup := setServicesForTest(&Services{Mandates: svc})
			defer cleanup()

			out, err := executeCommand(tt.args...)

			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, svc.invalidated)
			assert.Contains(t, out, tt.output)
		})
	}

	t.Run("all with mandate", func(t *testing.T) {
		svc := &mockMandateService{}
		cleanup := setServicesForTest(&Services{Mandates: svc})
		defer cleanup()

		_, err := executeCommand("invalidate", "--all", "acme")

		assert.Error(t, err)
		assert.Empty(t, svc.invalidated)
	})
}
