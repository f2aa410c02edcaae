// Package services holds the scanpipe core: segmentation, extraction,
// vendor matching, bank validation, the resilient mandate repository and
// the worker machinery that drives them. Services depend on driven ports
// only; adapters are wired in cmd/scanpipe.
package services
