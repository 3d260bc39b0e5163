package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"batchflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("BATCHFLOW_REGISTRY", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRegistry := filepath.Join(tempHome, ".local", "share", "batchflow", "registry.json")
	if cfg.Paths.RegistryFile != wantRegistry {
		t.Fatalf("unexpected registry file: got %q want %q", cfg.Paths.RegistryFile, wantRegistry)
	}
	if cfg.LockTimeout() != 10*time.Second {
		t.Fatalf("unexpected lock timeout: %s", cfg.LockTimeout())
	}
	if cfg.Tools.FFmpeg != "ffmpeg" || cfg.Tools.ExifTool != "exiftool" {
		t.Fatalf("unexpected tool defaults: %+v", cfg.Tools)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadEnvRegistryOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	override := filepath.Join(t.TempDir(), "catalog.json")
	t.Setenv("BATCHFLOW_REGISTRY", override)

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.RegistryFile != override {
		t.Fatalf("expected env override %q, got %q", override, cfg.Paths.RegistryFile)
	}
}

func TestLoadParsesFileAndPipelineDefaults(t *testing.T) {
	t.Setenv("BATCHFLOW_REGISTRY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
registry_file = "` + filepath.Join(dir, "reg.json") + `"

[registry]
lock_timeout_seconds = 3

[logging]
format = "JSON"
level = "Debug"

[pipeline.resize]
max_dimension = 1600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config file %q to be used, got %q exists=%v", path, resolved, exists)
	}
	if cfg.LockTimeout() != 3*time.Second {
		t.Fatalf("unexpected lock timeout %s", cfg.LockTimeout())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
	resize, ok := cfg.Pipeline["resize"].(map[string]any)
	if !ok {
		t.Fatalf("expected pipeline.resize table, got %#v", cfg.Pipeline["resize"])
	}
	if resize["max_dimension"] != int64(1600) {
		t.Fatalf("unexpected max_dimension %#v", resize["max_dimension"])
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("BATCHFLOW_REGISTRY", "")
	dir := t.TempDir()
	cases := map[string]string{
		"lock timeout": "[registry]\nlock_timeout_seconds = 0\n",
		"log format":   "[logging]\nformat = \"xml\"\n",
		"step timeout": "[steps]\ntimeout_seconds = -1\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".toml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, _, _, err := config.Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BATCHFLOW_REGISTRY", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if _, ok := cfg.Pipeline["watermark"]; !ok {
		t.Fatalf("expected sample pipeline defaults, got %#v", cfg.Pipeline)
	}
}
