package batchpath

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"batchflow/internal/batch"
	"batchflow/internal/pipeline"
	"batchflow/internal/services"
)

// ConfigFileName is the per-batch override file stored in the batch root.
const ConfigFileName = "batchflow.toml"

// Role selects which side of a step a path is resolved for.
type Role int

const (
	RoleInput Role = iota
	RoleOutput
)

func (r Role) String() string {
	if r == RoleOutput {
		return "output"
	}
	return "input"
}

// Manager resolves step directories relative to a batch root.
type Manager struct{}

// New returns a path manager.
func New() *Manager {
	return &Manager{}
}

// CheckRoot validates a candidate batch root and returns its absolute form.
func CheckRoot(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", services.Wrap(services.ErrInvalidPath, "", "", "batch root is empty", nil)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidPath, "", "", fmt.Sprintf("resolve %s", trimmed), err)
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrInvalidPath, "", "", fmt.Sprintf("%s does not exist", abs), nil)
		}
		return "", services.Wrap(services.ErrInvalidPath, "", "", fmt.Sprintf("stat %s", abs), err)
	}
	if !info.IsDir() {
		return "", services.Wrap(services.ErrInvalidPath, "", "", fmt.Sprintf("%s is not a directory", abs), nil)
	}
	if err := unix.Access(abs, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return "", services.Wrap(services.ErrInvalidPath, "", "", fmt.Sprintf("%s is not writable", abs), err)
	}
	return abs, nil
}

// Resolve returns the absolute directory a step reads (RoleInput) or writes
// (RoleOutput). Inputs must already exist, match the step's input pattern and
// be accompanied by every required file.
func (m *Manager) Resolve(b *batch.Batch, step string, role Role) (string, error) {
	if b == nil {
		return "", fmt.Errorf("resolve %s path: batch is required", role)
	}
	def, ok := pipeline.Lookup(step)
	if !ok {
		return "", services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "unknown step", nil)
	}
	if role == RoleOutput {
		dir := filepath.Join(b.RootPath, def.OutputDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory %s: %w", dir, err)
		}
		return dir, nil
	}

	dir := filepath.Join(b.RootPath, def.InputDir)
	if err := requireDir(b, step, dir); err != nil {
		return "", err
	}
	if def.InputPattern != "" {
		matches, err := glob(dir, def.InputPattern)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "", services.Wrap(services.ErrMissingPrerequisite, b.ID, step,
				fmt.Sprintf("no %s files in %s", def.InputPattern, dir), nil)
		}
	}
	for _, rel := range def.Requires {
		target := filepath.Join(b.RootPath, rel)
		if _, err := os.Stat(target); err != nil {
			return "", services.Wrap(services.ErrMissingPrerequisite, b.ID, step,
				fmt.Sprintf("required %s is missing", target), nil)
		}
	}
	return dir, nil
}

// Inputs lists the files in the step's input directory matching its pattern.
func (m *Manager) Inputs(b *batch.Batch, step string) ([]string, error) {
	dir, err := m.Resolve(b, step, RoleInput)
	if err != nil {
		return nil, err
	}
	def, _ := pipeline.Lookup(step)
	pattern := def.InputPattern
	if pattern == "" {
		pattern = "*"
	}
	return glob(dir, pattern)
}

// CountArtifacts counts regular files under a batch-relative directory that
// match pattern. A missing directory counts as zero.
func (m *Manager) CountArtifacts(b *batch.Batch, dir, pattern string) (int, error) {
	if b == nil {
		return 0, fmt.Errorf("count artifacts: batch is required")
	}
	abs := filepath.Join(b.RootPath, dir)
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	matches, err := glob(abs, pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// ExpectedRecords returns the number of data rows in the batch's normalized
// metadata file, or 0 when it does not exist yet.
func (m *Manager) ExpectedRecords(b *batch.Batch) (int, error) {
	path := filepath.Join(b.RootPath, pipeline.RecordsCSV)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		rows++
	}
	if rows > 0 {
		rows-- // header
	}
	return rows, nil
}

// ReportDir returns (and creates) the directory holding step reports.
func (m *Manager) ReportDir(b *batch.Batch) (string, error) {
	dir := filepath.Join(b.RootPath, pipeline.DirReports)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the batch override file location.
func (m *Manager) ConfigPath(b *batch.Batch) string {
	return filepath.Join(b.RootPath, ConfigFileName)
}

func requireDir(b *batch.Batch, step, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrMissingPrerequisite, b.ID, step,
				fmt.Sprintf("input directory %s is missing", dir), nil)
		}
		return services.Wrap(services.ErrMissingPrerequisite, b.ID, step, fmt.Sprintf("stat %s", dir), err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrMissingPrerequisite, b.ID, step,
			fmt.Sprintf("input %s is not a directory", dir), nil)
	}
	return nil
}

func glob(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("match %s in %s: %w", pattern, dir, err)
	}
	files := matches[:0]
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if strings.HasPrefix(filepath.Base(match), ".") {
			continue
		}
		files = append(files, match)
	}
	sort.Strings(files)
	return files, nil
}
