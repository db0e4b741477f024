// Package config provides configuration defaults for the featstore
// application.
//
// This package defines all configurable constants with documented
// defaults. Users can override these values via config.yaml or command
// line flags.
package config

import "os"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for store files.
	// Override via config: data_dir
	DefaultDataDir = "./features"

	// DefaultBackend selects the store file format: duckdb or bolt.
	// Override via config: backend
	DefaultBackend = "duckdb"

	// DefaultFilePrefix is the file name prefix for per-element store
	// files, e.g. features_subject=sub-01.duckdb.
	// Override via config: store.file_prefix
	DefaultFilePrefix = "features"

	// DefaultFileMode is the permission mode for newly created store files.
	// Override via config: store.file_mode
	DefaultFileMode os.FileMode = 0o600

	// DefaultPolicy decides what happens when a record already exists:
	// insert, update, or ignore.
	// Override via config: store.default_policy
	DefaultPolicy = "insert"
)

// =============================================================================
// Collection Defaults
// =============================================================================

const (
	// DefaultPreflight checks every source in parallel before the first
	// merge. Disable to merge as far as possible and fail late.
	// Override via config: collect.preflight
	DefaultPreflight = true
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportCompression is the Parquet compression algorithm.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level written to stderr:
	// debug, info, warn, error.
	// Override via config: logging.level
	DefaultLogLevel = "info"

	// DefaultLogJSON switches structured log output to JSON.
	// Override via config: logging.json
	DefaultLogJSON = false
)
