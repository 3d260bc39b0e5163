package workflow

import (
	"fmt"

	"batchflow/internal/batch"
	"batchflow/internal/pipeline"
	"batchflow/internal/services"
)

// resolveStep accepts a step name or 1-based position.
func resolveStep(batchID, ref string) (string, error) {
	name, ok := pipeline.Resolve(ref)
	if !ok {
		return "", services.Wrap(services.ErrInvalidStepTransition, batchID, ref, "unknown step", nil)
	}
	return name, nil
}

// checkRunnable reports whether step may move to running.
func checkRunnable(b *batch.Batch, step string, force bool) error {
	if b.Status == batch.LifecycleArchived {
		return services.WrapState(services.ErrInvalidTransition, b.ID, "", string(b.Status), "batch is archived; reactivate it first", nil)
	}
	rec, ok := b.Step(step)
	if !ok {
		return services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "step is not part of this batch", nil)
	}
	if running, ok := b.RunningStep(); ok {
		msg := "step is already running"
		if running.Name != step {
			msg = fmt.Sprintf("step %s is running", running.Name)
		}
		return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status), msg, nil)
	}
	switch rec.Status {
	case batch.StepPending, batch.StepFailed:
	case batch.StepCompleted:
		return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status), "step already completed; revert it before running again", nil)
	default:
		return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status), "step cannot be started", nil)
	}
	if force {
		return nil
	}
	if prev := b.Predecessor(step); prev != nil && prev.Status != batch.StepCompleted {
		return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status),
			fmt.Sprintf("predecessor %s is %s", prev.Name, prev.Status), nil)
	}
	return nil
}

// forcedPast reports whether a run skips an incomplete predecessor.
func forcedPast(b *batch.Batch, step string) bool {
	prev := b.Predecessor(step)
	return prev != nil && prev.Status != batch.StepCompleted
}

// begin moves step to running, applying the failed to pending retry reset
// first when needed.
func begin(b *batch.Batch, step string, force bool, start func(*batch.StepRecord)) error {
	if err := checkRunnable(b, step, force); err != nil {
		return err
	}
	rec, _ := b.Step(step)
	if rec.Status == batch.StepFailed {
		rec.Reset()
	}
	if !batch.CanTransition(rec.Status, batch.StepRunning) {
		return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status), "illegal transition to running", nil)
	}
	start(rec)
	return nil
}

// revert resets step and every downstream step to pending.
func revert(b *batch.Batch, step string) ([]string, error) {
	if b.Status == batch.LifecycleArchived {
		return nil, services.WrapState(services.ErrInvalidTransition, b.ID, "", string(b.Status), "batch is archived; reactivate it first", nil)
	}
	idx := b.StepIndex(step)
	if idx < 0 {
		return nil, services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "step is not part of this batch", nil)
	}
	if running, ok := b.RunningStep(); ok {
		msg := "step is running; cancel it first"
		if running.Name != step {
			msg = fmt.Sprintf("step %s is running; cancel it first", running.Name)
		}
		return nil, services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(b.Steps[idx].Status), msg, nil)
	}
	if b.Steps[idx].Status == batch.StepPending {
		return nil, services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(batch.StepPending), "step is already pending", nil)
	}
	var reset []string
	for i := idx; i < len(b.Steps); i++ {
		rec := &b.Steps[i]
		if rec.Status == batch.StepPending {
			continue
		}
		if !batch.CanTransition(rec.Status, batch.StepPending) {
			return nil, services.WrapState(services.ErrInvalidStepTransition, b.ID, rec.Name, string(rec.Status), "illegal transition to pending", nil)
		}
		rec.Reset()
		reset = append(reset, rec.Name)
	}
	return reset, nil
}
