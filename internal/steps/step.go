package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"batchflow/internal/batch"
	"batchflow/internal/batchconfig"
	"batchflow/internal/batchpath"
	"batchflow/internal/pipeline"
)

// Progress is a point-in-time report from a running step.
type Progress struct {
	Done    int
	Total   int
	Message string
}

// Input is everything a step needs for one run.
type Input struct {
	Batch      *batch.Batch
	Definition pipeline.Definition
	InputDir   string
	OutputDir  string
	// Inputs lists the files matching the step's input pattern, sorted.
	Inputs   []string
	Config   batchconfig.Config
	Paths    *batchpath.Manager
	Logger   *slog.Logger
	Progress func(Progress)
}

func (in Input) report(done, total int, format string, args ...any) {
	if in.Progress == nil {
		return
	}
	in.Progress(Progress{Done: done, Total: total, Message: fmt.Sprintf(format, args...)})
}

// Report summarizes a step run. Expected and Produced are filled by the
// executor for steps whose artifacts are counted against the records.
type Report struct {
	Processed int            `yaml:"processed"`
	Skipped   int            `yaml:"skipped,omitempty"`
	Expected  int            `yaml:"expected,omitempty"`
	Produced  int            `yaml:"produced,omitempty"`
	Warnings  []string       `yaml:"warnings,omitempty"`
	Details   map[string]any `yaml:"details,omitempty"`
}

// Warn appends a warning line.
func (r *Report) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Detail records a free-form value in the report.
func (r *Report) Detail(key string, value any) {
	if r.Details == nil {
		r.Details = map[string]any{}
	}
	r.Details[key] = value
}

// Step is one unit of processing within the pipeline.
type Step interface {
	Name() string
	Run(ctx context.Context, in Input) (Report, error)
}

// Func adapts a function into a Step.
type Func struct {
	StepName string
	Fn       func(ctx context.Context, in Input) (Report, error)
}

// Name implements Step.
func (f Func) Name() string { return f.StepName }

// Run implements Step.
func (f Func) Run(ctx context.Context, in Input) (Report, error) {
	if f.Fn == nil {
		return Report{}, fmt.Errorf("step %s has no implementation", f.StepName)
	}
	return f.Fn(ctx, in)
}

// Set is a lookup table of steps by name.
type Set struct {
	steps map[string]Step
	order []string
}

// NewSet builds a set. Later steps replace earlier ones with the same name.
func NewSet(steps ...Step) *Set {
	s := &Set{steps: make(map[string]Step, len(steps))}
	for _, step := range steps {
		s.Register(step)
	}
	return s
}

// Register adds or replaces a step.
func (s *Set) Register(step Step) {
	if step == nil {
		return
	}
	name := strings.TrimSpace(step.Name())
	if _, exists := s.steps[name]; !exists {
		s.order = append(s.order, name)
	}
	s.steps[name] = step
}

// Lookup returns the step registered under name.
func (s *Set) Lookup(name string) (Step, bool) {
	if s == nil {
		return nil, false
	}
	step, ok := s.steps[strings.TrimSpace(name)]
	return step, ok
}

// Names returns registered step names in registration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
