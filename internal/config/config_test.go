package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Default log level mismatch: got %s, want info", cfg.LogLevel)
	}

	if cfg.Engine != EngineNative {
		t.Errorf("Default engine mismatch: got %s, want %s", cfg.Engine, EngineNative)
	}

	if cfg.MaxConcurrency != 8 {
		t.Errorf("Default max concurrency mismatch: got %d, want 8", cfg.MaxConcurrency)
	}

	if cfg.MetricsEnabled {
		t.Errorf("Metrics should be disabled by default")
	}

	if cfg.MetricsPort != 9090 {
		t.Errorf("Default metrics port mismatch: got %d, want 9090", cfg.MetricsPort)
	}

	if cfg.Wasm.MemoryPages != 256 {
		t.Errorf("Default memory pages mismatch: got %d, want 256", cfg.Wasm.MemoryPages)
	}

	if cfg.Wasm.GuestDir != "./guest" {
		t.Errorf("Default guest dir mismatch: got %s, want ./guest", cfg.Wasm.GuestDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
log_level: debug
engine: wasm
metrics_enabled: true
metrics_port: 8080
wasm:
  guest_dir: /opt/exprbridge/guest
  max_instances: 2
`
	if err := os.WriteFile(path, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Log level mismatch: got %s, want debug", cfg.LogLevel)
	}

	if cfg.Engine != EngineWasm {
		t.Errorf("Engine mismatch: got %s, want %s", cfg.Engine, EngineWasm)
	}

	if cfg.MetricsPort != 8080 {
		t.Errorf("Metrics port mismatch: got %d, want 8080", cfg.MetricsPort)
	}

	if cfg.Wasm.GuestDir != "/opt/exprbridge/guest" {
		t.Errorf("Guest dir mismatch: got %s", cfg.Wasm.GuestDir)
	}

	if cfg.Wasm.MaxInstances != 2 {
		t.Errorf("Max instances mismatch: got %d, want 2", cfg.Wasm.MaxInstances)
	}

	// Untouched keys keep their defaults.
	if cfg.Wasm.MemoryPages != 256 {
		t.Errorf("Memory pages mismatch: got %d, want 256", cfg.Wasm.MemoryPages)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXPRBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("EXPRBRIDGE_WASM_MAX_INSTANCES", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Log level mismatch: got %s, want warn", cfg.LogLevel)
	}

	if cfg.Wasm.MaxInstances != 3 {
		t.Errorf("Max instances mismatch: got %d, want 3", cfg.Wasm.MaxInstances)
	}
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	t.Setenv("EXPRBRIDGE_ENGINE", "jvm")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() should fail for unknown engine")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing config file")
	}
}

func TestLibraryLogLevel(t *testing.T) {
	t.Setenv("EXPRBRIDGE_LOG_LEVEL", "")
	if got := LibraryLogLevel(); got != "" {
		t.Errorf("LibraryLogLevel() = %q, want empty", got)
	}

	t.Setenv("EXPRBRIDGE_LOG_LEVEL", "debug")
	if got := LibraryLogLevel(); got != "debug" {
		t.Errorf("LibraryLogLevel() = %q, want debug", got)
	}
}
