package workflow

import (
	"context"
	"fmt"

	"batchflow/internal/batch"
	"batchflow/internal/deps"
	"batchflow/internal/pipeline"
	"batchflow/internal/preflight"
	"batchflow/internal/services"
)

// Problem is one reason a step is not ready to run.
type Problem struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ValidationResult is the read-only verdict on whether a step can run.
type ValidationResult struct {
	BatchID  string    `json:"batch_id"`
	Step     string    `json:"step"`
	State    string    `json:"state,omitempty"`
	Ready    bool      `json:"ready"`
	Problems []Problem `json:"problems,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

func (r *ValidationResult) add(err error) {
	detail := services.Details(err)
	r.Problems = append(r.Problems, Problem{Kind: detail.Kind, Message: detail.Message})
}

// Validate checks whether step could run now without changing any state:
// lifecycle and step status, predecessor completion, configuration, input
// presence, and the collaborator binary.
func (mc *Machine) Validate(ctx context.Context, stepRef string, force bool) ValidationResult {
	m := mc.manager
	result := ValidationResult{BatchID: mc.batchID, Step: stepRef}
	step, err := resolveStep(mc.batchID, stepRef)
	if err != nil {
		result.add(err)
		return result
	}
	result.Step = step

	b, err := mc.Batch(ctx)
	if err != nil {
		result.add(err)
		return result
	}
	result.State = stepState(b, step)

	if err := checkRunnable(b, step, force); err != nil {
		result.add(err)
	} else if force && forcedPast(b, step) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("predecessor %s is %s; run would be forced", b.Predecessor(step).Name, b.Predecessor(step).Status))
	}
	if rec, ok := b.Step(step); ok && rec.Status == batch.StepFailed {
		result.Warnings = append(result.Warnings, "step failed previously; running it resets the failure")
	}

	if err := m.executor.Check(b, step); err != nil {
		result.add(err)
	} else if cfg, err := m.executor.Configs().Load(b); err == nil {
		result.Warnings = append(result.Warnings, cfg.Problems()...)
	}

	if def, ok := pipeline.Lookup(step); ok {
		if req, ok := preflight.ToolRequirement(m.cfg, def.Tool); ok {
			if status := deps.CheckBinary(req); !status.Available {
				result.add(services.Wrap(services.ErrMissingPrerequisite, b.ID, step, req.Name, fmt.Errorf("%s", status.Detail)))
			}
		}
	}

	result.Ready = len(result.Problems) == 0
	return result
}
