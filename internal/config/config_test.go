package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.Backend != "duckdb" {
		t.Errorf("expected duckdb default backend, got %q", cfg.Backend)
	}

	if cfg.Store.DefaultPolicy != "insert" {
		t.Errorf("expected insert default policy, got %q", cfg.Store.DefaultPolicy)
	}

	if cfg.Store.FilePrefix == "" {
		t.Error("expected default file_prefix")
	}

	if !cfg.Collect.Preflight {
		t.Error("expected preflight enabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	// Valid config
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	// Invalid: empty data_dir
	cfg = DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty data_dir")
	}

	// Invalid: unknown backend
	cfg = DefaultConfig()
	cfg.Backend = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}

	// Invalid: bad policy
	cfg = DefaultConfig()
	cfg.Store.DefaultPolicy = "upsert"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown policy")
	}

	// Invalid: bad compression algorithm
	cfg = DefaultConfig()
	cfg.Export.Compression = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid compression algorithm")
	}

	// Invalid: bad log level
	cfg = DefaultConfig()
	cfg.Logging.Level = "trace"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
data_dir: /data/features
backend: bolt
store:
  default_policy: ignore
  file_prefix: run
collect:
  preflight: false
  policy: update
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/data/features" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Backend != "bolt" {
		t.Errorf("backend = %q", cfg.Backend)
	}
	if cfg.Store.DefaultPolicy != "ignore" {
		t.Errorf("default_policy = %q", cfg.Store.DefaultPolicy)
	}
	if cfg.Collect.Preflight {
		t.Error("preflight should be overridden to false")
	}
	if cfg.Collect.Policy != "update" {
		t.Errorf("collect.policy = %q", cfg.Collect.Policy)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	// Unset fields keep their defaults.
	if cfg.Export.Compression != "zstd" {
		t.Errorf("export.compression = %q, want default zstd", cfg.Export.Compression)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("backend: sqlite\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExportDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/features"

	if got := cfg.ExportDir(); got != filepath.Join("/data/features", "export") {
		t.Errorf("ExportDir() = %q", got)
	}

	cfg.Export.Dir = "/exports"
	if got := cfg.ExportDir(); got != "/exports" {
		t.Errorf("ExportDir() = %q", got)
	}
}
