// Package storage defines the contract every feature storage backend
// implements, and the record types shared between them.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Compute   │────▶│  Fingerprint │────▶│   Backend   │
//	│  (external) │     │   + Kind     │     │ duckdb/bolt │
//	└─────────────┘     │  validation  │     └──────┬──────┘
//	                    └─────────────┘            │
//	                                               ▼
//	                                        ┌─────────────┐
//	                                        │  Collector  │
//	                                        │  (merge N   │
//	                                        │   sources)  │
//	                                        └─────────────┘
//
// The storage engine provides:
//   - Content-derived feature identity (fingerprint of canonical metadata)
//   - A closed set of payload shapes validated before any write
//   - Insert/Update/Ignore upsert semantics per (fingerprint, element)
//   - Single-transaction store calls: all-or-nothing under process kill
//   - Idempotent, partial-failure-safe merging of per-element store files
//   - A flat tabular view and Parquet export for external analysis tools
//
// Two backends honor identical semantics: a single-file DuckDB database
// (internal/storage/duckdb) and a single-file bbolt group tree
// (internal/storage/bolt).
//
// Concurrency: one OS process per compute element writes only its own
// store file; the collector owns the target exclusively for the duration
// of a merge. Behavior is undefined if collect runs concurrently with an
// in-progress producer or another collect on the same target; that
// barrier belongs to the external scheduler, not to this engine.
package storage
