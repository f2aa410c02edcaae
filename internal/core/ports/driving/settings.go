package driving

import "github.com/custodia-labs/scanpipe/internal/core/domain"

// SettingsService reads application settings.
type SettingsService interface {
	// Get returns the effective settings: defaults overlaid with the
	// config file and environment.
	Get() (*domain.Settings, error)

	// Sources reports the configuration layer each setting came from.
	Sources() []domain.SettingSource

	// Path returns the config file location.
	Path() string
}
