package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

const (
	// EnvPrefix prefixes environment variables that override config keys.
	EnvPrefix = "SCANPIPE_"

	// DirEnv overrides the default config directory.
	DirEnv = "SCANPIPE_CONFIG_DIR"

	configFile = "config.toml"
	dotEnvFile = ".env"
)

// ConfigStore layers the process environment over a .env file over
// config.toml. The files are read once, the environment on every lookup.
type ConfigStore struct {
	filePath string
	file     map[string]any
	dotenv   map[string]string
	getenv   func(string) (string, bool)
}

// NewConfigStore reads the config directory, creating it if needed.
// If configDir is empty, SCANPIPE_CONFIG_DIR or ~/.scanpipe is used.
// A missing config.toml or .env is not an error.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	dir, err := resolveDir(configDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	dotenv, err := godotenv.Read(filepath.Join(dir, dotEnvFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", dotEnvFile, err)
	}

	path := filepath.Join(dir, configFile)
	values, err := readTOML(path)
	if err != nil {
		return nil, err
	}

	return &ConfigStore{
		filePath: path,
		file:     values,
		dotenv:   dotenv,
		getenv:   os.LookupEnv,
	}, nil
}

func resolveDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	if env := os.Getenv(DirEnv); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".scanpipe"), nil
}

// readTOML returns the file's values keyed by dotted path.
func readTOML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	flat := make(map[string]any)
	flatten(tree, "", flat)
	return flat, nil
}

// flatten turns [store] retry_delay = "5s" into "store.retry_delay".
func flatten(tree map[string]any, prefix string, out map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if table, ok := value.(map[string]any); ok {
			flatten(table, key, out)
			continue
		}
		out[key] = value
	}
}

// EnvName returns the environment variable that overrides key.
// E.g. "store.retry_attempts" becomes SCANPIPE_STORE_RETRY_ATTEMPTS.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Lookup implements driven.ConfigStore.
func (s *ConfigStore) Lookup(key string) (any, domain.ConfigOrigin, bool) {
	name := EnvName(key)
	if v, ok := s.getenv(name); ok {
		return v, domain.ConfigOriginEnv, true
	}
	if v, ok := s.dotenv[name]; ok {
		return v, domain.ConfigOriginDotEnv, true
	}
	if v, ok := s.file[key]; ok {
		return v, domain.ConfigOriginFile, true
	}
	return nil, domain.ConfigOriginDefault, false
}

// Keys implements driven.ConfigStore.
func (s *ConfigStore) Keys() []string {
	keys := make([]string, 0, len(s.file))
	for k := range s.file {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the config.toml location.
func (s *ConfigStore) Path() string {
	return s.filePath
}
