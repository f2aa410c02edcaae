// Package sqlite provides a single-host relational store for scanpipe.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. One database file holds:
//
//   - mandates, known expressions and the bank reference table
//   - the insert-only OCR result log, unique per (mandate, batch, page range)
//   - housekeeping schedules and run history (TaskStore)
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.scanpipe/scanpipe.db
//
// # Thread Safety
//
// All operations are thread-safe. Sessions reserve a pooled connection;
// SQLite in WAL mode serialises writers.
package sqlite
