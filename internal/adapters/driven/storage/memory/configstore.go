package memory

import (
	"maps"
	"slices"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore serves a fixed set of values as if read from a config file.
type ConfigStore struct {
	values map[string]any
}

// NewConfigStore creates a config store holding a copy of values.
func NewConfigStore(values map[string]any) *ConfigStore {
	return &ConfigStore{values: maps.Clone(values)}
}

// Lookup implements driven.ConfigStore.
func (s *ConfigStore) Lookup(key string) (any, domain.ConfigOrigin, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, domain.ConfigOriginDefault, false
	}
	return v, domain.ConfigOriginFile, true
}

// Keys implements driven.ConfigStore.
func (s *ConfigStore) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Path returns a placeholder location.
func (s *ConfigStore) Path() string { return ":memory:" }
