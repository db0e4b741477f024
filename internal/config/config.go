// Package config loads and validates the featstore configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/featstore/config"
)

// Config represents the complete featstore configuration.
type Config struct {
	// DataDir is the root directory for store files.
	DataDir string `yaml:"data_dir"`

	// Backend selects the store file format: duckdb or bolt.
	Backend string `yaml:"backend"`

	// Store configures record writing.
	Store StoreConfig `yaml:"store"`

	// Collect configures the collection run.
	Collect CollectConfig `yaml:"collect"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures record writing.
type StoreConfig struct {
	// DefaultPolicy decides what happens when a record already exists:
	// insert, update, or ignore.
	DefaultPolicy string `yaml:"default_policy"`

	// FilePrefix is the file name prefix for per-element store files.
	FilePrefix string `yaml:"file_prefix"`

	// FileMode is the permission mode for newly created store files.
	FileMode os.FileMode `yaml:"file_mode"`
}

// CollectConfig configures the collection run.
type CollectConfig struct {
	// Preflight checks every source in parallel before the first merge.
	Preflight bool `yaml:"preflight"`

	// Policy overrides store.default_policy for collection runs.
	Policy string `yaml:"policy"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Dir is the export directory. Defaults to {DataDir}/export.
	Dir string `yaml:"dir"`

	// Compression is the Parquet compression algorithm: zstd, snappy, none.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches log output from text to JSON.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: config.DefaultDataDir,
		Backend: config.DefaultBackend,
		Store: StoreConfig{
			DefaultPolicy: config.DefaultPolicy,
			FilePrefix:    config.DefaultFilePrefix,
			FileMode:      config.DefaultFileMode,
		},
		Collect: CollectConfig{
			Preflight: config.DefaultPreflight,
			Policy:    config.DefaultPolicy,
		},
		Export: ExportConfig{
			Compression: config.DefaultExportCompression,
		},
		Logging: LoggingConfig{
			Level: config.DefaultLogLevel,
			JSON:  config.DefaultLogJSON,
		},
	}
}
