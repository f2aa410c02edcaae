// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - StoreConnector / StoreSession: relational store access
//   - PDFOpener / PDFDocument: native text and page rasterisation
//   - OCREngine: text recognition on page rasters
//   - MarkerDecoder: QR decoding on page rasters
//   - Inbox: per-mandate input, archive and diagnostics locations
//   - ConfigStore: application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - InvalidationNotifier: cross-process cache invalidation. Without it,
//     caches are refreshed by TTL and the cache-refresh task only.
//   - TaskStore: housekeeping schedules and run history. Without it,
//     schedules restart on every launch and no history is kept.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
