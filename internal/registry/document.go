package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"batchflow/internal/batch"
	"batchflow/internal/fileutil"
	"batchflow/internal/services"
)

const documentVersion = 1

type document struct {
	Version int            `json:"version"`
	Batches []*batch.Batch `json:"batches"`
}

func (r *Registry) read() (*document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &document{Version: documentVersion}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	// Atomic writes never leave an empty file behind; a blank one was truncated.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, services.Wrap(services.ErrRegistryCorrupt, "", "", fmt.Sprintf("%s is empty", r.path), nil)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrRegistryCorrupt, "", "", fmt.Sprintf("parse %s", r.path), err)
	}
	if doc.Version != documentVersion {
		return nil, services.Wrap(services.ErrRegistryCorrupt, "", "",
			fmt.Sprintf("%s has unsupported version %d", r.path, doc.Version), nil)
	}
	for _, b := range doc.Batches {
		if err := r.checkShape(b); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// checkShape enforces one record per pipeline step, in pipeline order.
func (r *Registry) checkShape(b *batch.Batch) error {
	if b == nil || b.ID == "" {
		return services.Wrap(services.ErrRegistryCorrupt, "", "", fmt.Sprintf("%s contains a batch without an id", r.path), nil)
	}
	if len(r.steps) == 0 {
		return nil
	}
	if len(b.Steps) != len(r.steps) {
		return services.Wrap(services.ErrRegistryCorrupt, b.ID, "",
			fmt.Sprintf("expected %d steps, found %d", len(r.steps), len(b.Steps)), nil)
	}
	for i, name := range r.steps {
		if b.Steps[i].Name != name {
			return services.Wrap(services.ErrRegistryCorrupt, b.ID, b.Steps[i].Name,
				fmt.Sprintf("expected step %q at position %d", name, i+1), nil)
		}
		if _, ok := batch.ParseStepStatus(string(b.Steps[i].Status)); !ok {
			return services.Wrap(services.ErrRegistryCorrupt, b.ID, name,
				fmt.Sprintf("unknown step status %q", b.Steps[i].Status), nil)
		}
	}
	if _, ok := batch.ParseLifecycle(string(b.Status)); !ok {
		return services.Wrap(services.ErrRegistryCorrupt, b.ID, "", fmt.Sprintf("unknown lifecycle %q", b.Status), nil)
	}
	return nil
}

func (r *Registry) write(doc *document) error {
	doc.Version = documentVersion
	if doc.Batches == nil {
		doc.Batches = []*batch.Batch{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
