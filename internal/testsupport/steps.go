package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"batchflow/internal/pipeline"
	"batchflow/internal/steps"
)

// ArtifactStep returns a fake step that writes the artifacts its definition
// declares: one output per input for glob artifacts, or the named file.
// Downstream steps therefore find their inputs.
func ArtifactStep(name string) steps.Step {
	return steps.Func{StepName: name, Fn: func(ctx context.Context, in steps.Input) (steps.Report, error) {
		var report steps.Report
		def := in.Definition
		if !strings.Contains(def.Artifacts, "*") {
			content := "ok\n"
			if def.Name == pipeline.NormalizeCSV {
				content = recordsFor(in)
			}
			if err := os.WriteFile(filepath.Join(in.OutputDir, def.Artifacts), []byte(content), 0o644); err != nil {
				return report, err
			}
			report.Processed = 1
			return report, nil
		}
		ext := strings.TrimPrefix(def.Artifacts, "*")
		for i, src := range in.Inputs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
			if err := os.WriteFile(filepath.Join(in.OutputDir, base+ext), []byte("img"), 0o644); err != nil {
				return report, err
			}
			report.Processed++
			if in.Progress != nil {
				in.Progress(steps.Progress{Done: i + 1, Total: len(in.Inputs), Message: base})
			}
		}
		return report, nil
	}}
}

// recordsFor lists one record per original image.
func recordsFor(in steps.Input) string {
	var b strings.Builder
	b.WriteString("identifier,title\n")
	entries, _ := os.ReadDir(filepath.Join(in.Batch.RootPath, pipeline.DirOriginals))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		fmt.Fprintf(&b, "%s,Photo %s\n", id, id)
	}
	return b.String()
}

// FailingStep returns a fake step that fails like a collaborator exiting
// non-zero.
func FailingStep(name, message string) steps.Step {
	return steps.Func{StepName: name, Fn: func(ctx context.Context, in steps.Input) (steps.Report, error) {
		return steps.Report{}, errors.New(message)
	}}
}

// BlockingStep returns a fake step that signals started and then waits for
// cancellation.
func BlockingStep(name string, started chan<- struct{}) steps.Step {
	return steps.Func{StepName: name, Fn: func(ctx context.Context, in steps.Input) (steps.Report, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return steps.Report{}, ctx.Err()
	}}
}

// FakeSteps builds a set with an ArtifactStep for every pipeline step,
// replaced by any overrides with the same name.
func FakeSteps(overrides ...steps.Step) *steps.Set {
	set := steps.NewSet()
	for _, name := range pipeline.Names() {
		set.Register(ArtifactStep(name))
	}
	for _, step := range overrides {
		set.Register(step)
	}
	return set
}
