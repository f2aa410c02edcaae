package seed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

const sample = `
mandates:
  - id: acme
    name: ACME Holding
    input_dir: acme/in
    archive_dir: /srv/acme/archive
    diagnostics_dir: acme/diagnostics
    poll_interval: 30s
    retention: 720h
    marker_policy: Drop
    expressions:
      - id: telco-1
        vendor: telco
        pattern: 'Telco\s+AG'
        priority: 10
      - vendor: power
        pattern: Stadtwerke Nord
        kind: TEXT
  - id: beta
    input_dir: beta/in
    archive_dir: beta/archive
    diagnostics_dir: beta/diagnostics
    poll_interval: 1m
    marker_policy: keep
    marker_prefix: BATCH
    enabled: false
banks:
  - country: de
    code: "37040044"
    name: Commerzbank
    bic: cobadeffxxx
`

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	set, err := NewLoader().Load(path)

	require.NoError(t, err)
	require.Len(t, set.Mandates, 2)
	require.NoError(t, set.Validate())

	acme := set.Mandates[0]
	assert.Equal(t, "acme", acme.ID)
	assert.Equal(t, "ACME Holding", acme.Name)
	assert.Equal(t, filepath.Join(dir, "acme/in"), acme.InputDir)
	assert.Equal(t, "/srv/acme/archive", acme.ArchiveDir)
	assert.Equal(t, 30*time.Second, acme.PollInterval)
	assert.Equal(t, 720*time.Hour, acme.Retention.MaxAge)
	assert.Equal(t, domain.MarkerPolicyDrop, acme.MarkerPolicy)
	assert.True(t, acme.Enabled)

	beta := set.Mandates[1]
	assert.False(t, beta.Enabled)
	assert.Equal(t, "BATCH", beta.MarkerPrefix)
	assert.Zero(t, beta.Retention.MaxAge)

	exprs := set.Expressions["acme"]
	require.Len(t, exprs, 2)
	assert.Equal(t, "telco-1", exprs[0].ID)
	assert.Equal(t, `Telco\s+AG`, exprs[0].Pattern)
	assert.Equal(t, 10, exprs[0].Priority)
	assert.Equal(t, domain.ExpressionText, exprs[1].Kind)
	assert.Equal(t, 1, exprs[1].Ordinal)
	assert.Equal(t, "acme", exprs[1].MandateID)
	_, hasBeta := set.Expressions["beta"]
	assert.False(t, hasBeta, "a mandate without expressions keeps its stored set")

	require.Len(t, set.Banks, 1)
	assert.Equal(t, domain.Bank{Country: "DE", Code: "37040044", Name: "Commerzbank", BIC: "COBADEFFXXX"}, set.Banks[0])
}

func TestLoader_Load_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "malformed yaml",
			data: "mandates: [",
			want: "seed file",
		},
		{
			name: "bad poll interval",
			data: "mandates:\n  - id: acme\n    poll_interval: soon\n",
			want: "poll_interval",
		},
		{
			name: "duplicate mandate",
			data: "mandates:\n  - id: acme\n  - id: acme\n",
			want: "listed twice",
		},
		{
			name: "bank without code",
			data: "banks:\n  - country: DE\n    name: Nameless\n",
			want: "needs country and code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "")

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	set, err := Parse(nil, "")

	require.NoError(t, err)
	assert.Empty(t, set.Mandates)
	assert.Empty(t, set.Banks)
}
