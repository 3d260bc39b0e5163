package batchconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"batchflow/internal/batch"
	"batchflow/internal/batchpath"
	"batchflow/internal/fileutil"
	"batchflow/internal/pipeline"
	"batchflow/internal/services"
)

// Manager reads and writes batch configuration.
type Manager struct {
	defaults map[string]any
	app      map[string]any
	paths    *batchpath.Manager
}

// NewManager builds a manager layering app over the built-in pipeline
// defaults. app may be nil.
func NewManager(app map[string]any, paths *batchpath.Manager) *Manager {
	if paths == nil {
		paths = batchpath.New()
	}
	appLayer := map[string]any{}
	if app != nil {
		if normalized, ok := normalize(app).(map[string]any); ok {
			appLayer = normalized
		}
	}
	return &Manager{
		defaults: pipeline.Defaults(),
		app:      appLayer,
		paths:    paths,
	}
}

// Path returns the override file for a batch.
func (m *Manager) Path(b *batch.Batch) string {
	return m.paths.ConfigPath(b)
}

// Load returns the effective configuration for a batch. A missing override
// file is not an error; an unparsable one is services.ErrConfigCorrupt.
func (m *Manager) Load(b *batch.Batch) (Config, error) {
	overrides, err := m.Overrides(b)
	if err != nil {
		return Config{}, err
	}

	merged := cloneMap(m.defaults)
	mergeInto(merged, m.app)
	mergeInto(merged, overrides)

	sources := map[string]Source{}
	for _, layer := range []struct {
		values map[string]any
		source Source
	}{
		{m.app, SourceApp},
		{overrides, SourceBatch},
	} {
		leaves := map[string]any{}
		flattenInto(leaves, "", layer.values)
		for key := range leaves {
			sources[key] = layer.source
		}
	}
	return Config{values: merged, sources: sources}, nil
}

// Overrides returns only the batch's own override layer.
func (m *Manager) Overrides(b *batch.Batch) (map[string]any, error) {
	if b == nil {
		return nil, fmt.Errorf("load config: batch is required")
	}
	path := m.Path(b)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, services.Wrap(services.ErrConfigCorrupt, b.ID, "", fmt.Sprintf("read %s", path), err)
	}
	overrides := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return overrides, nil
	}
	if err := toml.Unmarshal(data, &overrides); err != nil {
		return nil, services.Wrap(services.ErrConfigCorrupt, b.ID, "", fmt.Sprintf("parse %s", path), err)
	}
	return overrides, nil
}

// Save deep-merges partial into the existing overrides and writes the file
// atomically.
func (m *Manager) Save(b *batch.Batch, partial map[string]any) error {
	overrides, err := m.Overrides(b)
	if err != nil {
		return err
	}
	normalized, _ := normalize(partial).(map[string]any)
	mergeInto(overrides, normalized)
	return m.write(b, overrides)
}

// Set assigns one dotted key. raw is parsed as a TOML value (numbers, booleans,
// arrays, quoted strings) and falls back to a bare string.
func (m *Manager) Set(b *batch.Batch, key, raw string) error {
	if len(splitKey(key)) == 0 {
		return fmt.Errorf("config key is required")
	}
	overrides, err := m.Overrides(b)
	if err != nil {
		return err
	}
	if err := setPath(overrides, key, ParseValue(raw)); err != nil {
		return err
	}
	return m.write(b, overrides)
}

// Unset removes one dotted key from the overrides. It reports whether the key
// was present.
func (m *Manager) Unset(b *batch.Batch, key string) (bool, error) {
	overrides, err := m.Overrides(b)
	if err != nil {
		return false, err
	}
	if !deletePath(overrides, splitKey(key)) {
		return false, nil
	}
	return true, m.write(b, overrides)
}

// ParseValue interprets a command-line value the way a TOML file would.
func ParseValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var doc map[string]any
	if err := toml.Unmarshal([]byte("v = "+trimmed), &doc); err == nil {
		if v, ok := doc["v"]; ok {
			return v
		}
	}
	return trimmed
}

func (m *Manager) write(b *batch.Batch, overrides map[string]any) error {
	data, err := toml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode batch config: %w", err)
	}
	if err := fileutil.WriteFileAtomic(m.Path(b), data, 0o644); err != nil {
		return fmt.Errorf("write batch config: %w", err)
	}
	return nil
}
