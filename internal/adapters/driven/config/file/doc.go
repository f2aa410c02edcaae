// Package file provides the file-based configuration store.
//
// Values come from three layers, highest first:
//   - process environment (SCANPIPE_STORE_DSN for key store.dsn)
//   - a .env file in the config directory
//   - config.toml in the config directory
package file
