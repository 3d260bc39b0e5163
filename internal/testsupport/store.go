package testsupport

import (
	"context"
	"testing"

	"batchflow/internal/batch"
	"batchflow/internal/config"
	"batchflow/internal/history"
	"batchflow/internal/registry"
)

// RegistryOption adjusts registry options before opening.
type RegistryOption func(*registry.Options)

// MustOpenRegistry opens the registry named by cfg and closes it on cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config, opts ...RegistryOption) *registry.Registry {
	t.Helper()

	options := registry.Options{
		Path:        cfg.Paths.RegistryFile,
		LockTimeout: cfg.LockTimeout(),
		LockRetry:   cfg.LockRetry(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	reg, err := registry.Open(options)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// MustOpenHistory opens the run journal named by cfg and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewBatch registers a batch over a fresh working directory.
func NewBatch(t testing.TB, reg *registry.Registry, name string) *batch.Batch {
	t.Helper()

	created, err := reg.Create(context.Background(), name, NewBatchDir(t))
	if err != nil {
		t.Fatalf("registry.Create: %v", err)
	}
	return created
}
