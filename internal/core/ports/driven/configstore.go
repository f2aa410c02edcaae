package driven

import "github.com/custodia-labs/scanpipe/internal/core/domain"

// ConfigStore is a read-only, layered source of configuration values
// addressed by dotted keys such as "store.retry_delay".
type ConfigStore interface {
	// Lookup returns the raw value of key and the layer that supplied it.
	// Values from environment layers are always strings.
	Lookup(key string) (value any, origin domain.ConfigOrigin, ok bool)

	// Keys lists the keys set in the config file, sorted.
	Keys() []string

	// Path returns the config file location.
	Path() string
}
