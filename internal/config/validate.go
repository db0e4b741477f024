package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	validBackends := map[string]bool{
		"duckdb": true,
		"bolt":   true,
	}
	if !validBackends[c.Backend] {
		errs = append(errs, fmt.Errorf("backend must be one of: duckdb, bolt (got %q)", c.Backend))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := c.Collect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("collect: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

var validPolicies = map[string]bool{
	"insert": true,
	"update": true,
	"ignore": true,
	"":       true, // Empty defaults to insert
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	var errs []error

	if !validPolicies[c.DefaultPolicy] {
		errs = append(errs, fmt.Errorf("default_policy must be one of: insert, update, ignore (got %q)", c.DefaultPolicy))
	}

	if c.FilePrefix == "" {
		errs = append(errs, errors.New("file_prefix is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the collect configuration.
func (c *CollectConfig) Validate() error {
	if !validPolicies[c.Policy] {
		return fmt.Errorf("policy must be one of: insert, update, ignore (got %q)", c.Policy)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"zstd":   true,
		"snappy": true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		return fmt.Errorf("compression must be one of: zstd, snappy, none (got %q)", c.Compression)
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"":      true, // Empty defaults to info
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("level must be one of: debug, info, warn, error (got %q)", c.Level)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.ExportDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ExportDir returns the Parquet export directory path.
func (c *Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "export")
}
