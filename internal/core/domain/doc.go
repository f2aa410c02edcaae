// Package domain defines the core entities of the scan pipeline.
//
// This package is the innermost layer of the hexagon. It has no
// external dependencies and defines:
//
//   - Mandate: a tenant with its directories and processing policy
//   - Batch, Page, Marker: an input file and its rendered pages
//   - SegmentedDocument: one logical document cut from a batch
//   - KnownExpression, MatchResult: vendor recognition
//   - IBAN, Bank, BankRecord: bank data validation
//   - OcrResult: the persisted per-document record
//
// Pure rules live here too: IBAN checksums, marker payload parsing,
// worker state transitions and the error taxonomy.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
