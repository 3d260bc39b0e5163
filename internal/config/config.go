package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	RegistryFile string `toml:"registry_file"`
	LogDir       string `toml:"log_dir"`
	HistoryDB    string `toml:"history_db"`
}

// Registry contains the catalog locking knobs.
type Registry struct {
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`
	LockRetryMillis    int `toml:"lock_retry_millis"`
}

// Tools names the external collaborator binaries.
type Tools struct {
	FFmpeg   string `toml:"ffmpeg"`
	ExifTool string `toml:"exiftool"`
}

// Steps contains execution limits applied to every step run.
type Steps struct {
	TimeoutSeconds     int `toml:"timeout_seconds"`
	HTTPTimeoutSeconds int `toml:"http_timeout_seconds"`
}

// Notifications configures ntfy alerts for failed steps and finished batches.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for batchflow.
//
// Configuration sections:
//   - Paths: registry file, log directory, run history database
//   - Registry: lock wait bounds
//   - Tools: ffmpeg and ExifTool binaries
//   - Steps: per-run timeouts
//   - Notifications: optional ntfy topic
//   - Logging: log format and level
//   - Pipeline: workstation-wide default batch parameters, layered between
//     the built-in step defaults and each batch's own overrides
type Config struct {
	Paths         Paths          `toml:"paths"`
	Registry      Registry       `toml:"registry"`
	Tools         Tools          `toml:"tools"`
	Steps         Steps          `toml:"steps"`
	Notifications Notifications  `toml:"notifications"`
	Logging       Logging        `toml:"logging"`
	Pipeline      map[string]any `toml:"pipeline"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/batchflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("batchflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories holding the registry, logs, and history.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Paths.RegistryFile),
		c.Paths.LogDir,
		filepath.Dir(c.Paths.HistoryDB),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockTimeout bounds how long a mutating registry call waits for the catalog lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Registry.LockTimeoutSeconds) * time.Second
}

// LockRetry is the polling interval while waiting for the catalog lock.
func (c *Config) LockRetry() time.Duration {
	return time.Duration(c.Registry.LockRetryMillis) * time.Millisecond
}

// StepTimeout bounds a single step run, including its subprocesses.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Steps.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds a single notification request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// HTTPTimeout bounds network requests made by steps.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Steps.HTTPTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
