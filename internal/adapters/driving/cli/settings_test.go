package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// mockSettingsService implements driving.SettingsService for testing.
type mockSettingsService struct {
	settings *domain.Settings
	sources  []domain.SettingSource
	err      error
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	return m.settings, m.err
}

func (m *mockSettingsService) Sources() []domain.SettingSource {
	return m.sources
}

func (m *mockSettingsService) Path() string {
	return "/etc/scanpipe/config.toml"
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "password is hidden",
			input:    "postgres://scan:secret@db:5432/scan?sslmode=disable",
			expected: "postgres://scan:xxxxx@db:5432/scan?sslmode=disable",
		},
		{
			name:     "no password",
			input:    "postgres://scan@db/scan",
			expected: "postgres://scan@db/scan",
		},
		{
			name:     "keyword form is masked entirely",
			input:    "host=db user=scan password=secret",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskDSN(tt.input))
		})
	}
}

func TestSettingsCmd_Show(t *testing.T) {
	defaults := domain.DefaultSettings()
	defaults.Store.Driver = domain.StoreDriverPostgres
	defaults.Store.DSN = "postgres://scan:secret@db/scan"
	defaults.Housekeeping.RefreshInterval = 0
	cleanup := setServicesForTest(&Services{Settings: &mockSettingsService{
		settings: &defaults,
		sources: []domain.SettingSource{
			{Key: "store.driver", Origin: domain.ConfigOriginFile},
			{Key: "store.dsn", Origin: domain.ConfigOriginEnv},
			{Key: "log.level", Origin: domain.ConfigOriginDefault},
		},
	}})
	defer cleanup()

	out, err := executeCommand("settings")

	assert.NoError(t, err)
	assert.Contains(t, out, "Driver: postgres")
	assert.Contains(t, out, "postgres://scan:xxxxx@db/scan")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "Retry: 3 attempts, 5s apart")
	assert.Contains(t, out, "Refresh interval: off")
	assert.Contains(t, out, "OCR: tesseract (deu+eng)")
	assert.Contains(t, out, "[Overrides]")
	assert.Regexp(t, `store\.dsn\s+env`, out)
	assert.Regexp(t, `store\.driver\s+config file`, out)
	assert.NotContains(t, out, "log.level")
}

func TestSettingsCmd_Path(t *testing.T) {
	cleanup := setServicesForTest(&Services{Settings: &mockSettingsService{}})
	defer cleanup()

	out, err := executeCommand("settings", "path")

	assert.NoError(t, err)
	assert.Contains(t, out, "/etc/scanpipe/config.toml")
}

func TestSettingsCmd_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{})
		defer cleanup()

		_, err := executeCommand("settings")

		assert.ErrorContains(t, err, "settings service not configured")
	})

	t.Run("invalid settings", func(t *testing.T) {
		cleanup := setServicesForTest(&Services{Settings: &mockSettingsService{err: errors.New("store.dsn is required")}})
		defer cleanup()

		_, err := executeCommand("settings")

		assert.ErrorContains(t, err, "store.dsn is required")
	})
}
