package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"batchflow/internal/batch"
	"batchflow/internal/history"
	"batchflow/internal/logging"
	"batchflow/internal/procutil"
	"batchflow/internal/services"
	"batchflow/internal/stepexec"
	"batchflow/internal/steps"
)

// RunOptions adjusts a single run.
type RunOptions struct {
	// Force skips the predecessor-completed check. Forced runs are logged
	// and flagged on the step record.
	Force bool
	// Progress receives step progress; it is called on the run goroutine.
	Progress func(steps.Progress)
}

// Machine is the step state machine for one batch.
type Machine struct {
	manager *Manager
	batchID string
}

// BatchID returns the full identifier of the batch.
func (mc *Machine) BatchID() string { return mc.batchID }

// Batch returns the current persisted state of the batch.
func (mc *Machine) Batch(ctx context.Context) (*batch.Batch, error) {
	return mc.manager.registry.Get(ctx, mc.batchID)
}

// Run executes one step. Precondition failures return an error before any
// state changes. Once the step is running, the outcome is always persisted
// as completed or failed; a failed outcome is also returned as an error
// marked ErrStepFailed or ErrCancelled.
func (mc *Machine) Run(ctx context.Context, stepRef string, opts RunOptions) (stepexec.Outcome, error) {
	m := mc.manager
	ctx, _ = services.EnsureRequestID(ctx)
	step, err := resolveStep(mc.batchID, stepRef)
	if err != nil {
		return stepexec.Outcome{Step: stepRef}, err
	}
	current, err := mc.Batch(ctx)
	if err != nil {
		return stepexec.Outcome{Step: step}, err
	}
	if err := checkRunnable(current, step, opts.Force); err != nil {
		return stepexec.Outcome{Step: step}, err
	}
	if err := m.executor.Check(current, step); err != nil {
		return stepexec.Outcome{Step: step}, err
	}

	forced := false
	started, err := m.registry.Update(ctx, mc.batchID, func(b *batch.Batch) error {
		return begin(b, step, opts.Force, func(rec *batch.StepRecord) {
			forced = opts.Force && forcedPast(b, step)
			rec.MarkRunning(m.registry.Now(), m.registry.Owner(), forced)
		})
	})
	if err != nil {
		return stepexec.Outcome{Step: step}, err
	}

	logger := m.stepLogger(ctx, mc.batchID, step)
	if forced {
		prev := started.Predecessor(step)
		logging.WarnWithContext(logger, "step started without a completed predecessor",
			"step_force",
			logging.String("predecessor", prev.Name),
			logging.String("predecessor_status", string(prev.Status)),
			logging.String(logging.FieldErrorHint, "verify the predecessor output before relying on this step"),
			logging.String(logging.FieldImpact, "step runs on possibly stale inputs"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	untrack := m.track(mc.batchID, step, cancel)
	outcome := m.executor.Execute(runCtx, step, started, opts.Progress)
	untrack()
	cancel()

	finished, persistErr := mc.finish(context.WithoutCancel(ctx), step, outcome)
	m.record(ctx, started, step, historyEntry(outcome, forced))
	if persistErr != nil {
		logging.ErrorWithContext(logger, "failed to persist step outcome",
			"step_persist_failed",
			logging.Error(persistErr),
			logging.String(logging.FieldErrorHint, "the step stays running until this process exits; rerun after checking the registry"),
		)
		return outcome, persistErr
	}
	m.notifyOutcome(ctx, finished, outcome)
	if outcome.Success {
		return outcome, nil
	}
	marker := services.ErrStepFailed
	if outcome.Reason == batch.ReasonCancelled {
		marker = services.ErrCancelled
	}
	return outcome, services.WrapState(marker, mc.batchID, step, stepState(finished, step), outcome.ErrorDetail, nil)
}

func (mc *Machine) finish(ctx context.Context, step string, outcome stepexec.Outcome) (*batch.Batch, error) {
	m := mc.manager
	return m.registry.Update(ctx, mc.batchID, func(b *batch.Batch) error {
		rec, ok := b.Step(step)
		if !ok {
			return services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "step is not part of this batch", nil)
		}
		if rec.Status != batch.StepRunning || rec.OwnerSession != m.registry.Session() {
			return services.WrapState(services.ErrInvalidStepTransition, b.ID, step, string(rec.Status), "step is no longer owned by this run", nil)
		}
		if outcome.Success {
			rec.MarkCompleted(m.registry.Now(), outcome.ReportPath)
			return nil
		}
		rec.MarkFailed(m.registry.Now(), outcome.Reason, outcome.ErrorDetail, outcome.ReportPath)
		return nil
	})
}

// Revert resets step to pending and cascades every downstream step back to
// pending, so a completed step is always built from its predecessor's
// current output. It returns the updated batch and the names of the reset
// steps.
func (mc *Machine) Revert(ctx context.Context, stepRef string) (*batch.Batch, []string, error) {
	m := mc.manager
	step, err := resolveStep(mc.batchID, stepRef)
	if err != nil {
		return nil, nil, err
	}
	var reset []string
	updated, err := m.registry.Update(ctx, mc.batchID, func(b *batch.Batch) error {
		var revertErr error
		reset, revertErr = revert(b, step)
		return revertErr
	})
	if err != nil {
		return nil, nil, err
	}
	m.stepLogger(ctx, mc.batchID, step).Info("step reverted",
		logging.String(logging.FieldEventType, "step_revert"),
		logging.String("reset_steps", strings.Join(reset, ",")),
	)
	for _, name := range reset {
		detail := ""
		if name != step {
			detail = "cascaded from " + step
		}
		m.record(ctx, updated, name, history.Entry{
			Action: history.ActionRevert,
			Status: string(batch.StepPending),
			Error:  detail,
		})
	}
	return updated, reset, nil
}

// RunAll runs every step from the first pending one to the end and stops on
// the first failure. Steps already completed by a forced run are skipped. A
// batch with a failed step is rejected; the failure must be retried or
// reverted explicitly.
func (mc *Machine) RunAll(ctx context.Context, opts RunOptions) ([]stepexec.Outcome, error) {
	ctx, _ = services.EnsureRequestID(ctx)
	current, err := mc.Batch(ctx)
	if err != nil {
		return nil, err
	}
	for i := range current.Steps {
		rec := current.Steps[i]
		if rec.Status == batch.StepFailed {
			return nil, services.WrapState(services.ErrInvalidStepTransition, current.ID, rec.Name, string(rec.Status),
				"step failed; run or revert it before running the rest of the pipeline", nil)
		}
	}
	start := current.FirstPending()
	if start < 0 {
		return nil, nil
	}

	// A forced run can leave completed steps after the first pending one.
	names := make([]string, 0, len(current.Steps)-start)
	for i := start; i < len(current.Steps); i++ {
		if current.Steps[i].Status == batch.StepCompleted {
			continue
		}
		names = append(names, current.Steps[i].Name)
	}
	outcomes := make([]stepexec.Outcome, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return outcomes, services.Wrap(services.ErrCancelled, mc.batchID, name, "run-all cancelled", err)
		}
		outcome, err := mc.Run(ctx, name, RunOptions{Progress: opts.Progress})
		if err != nil {
			if outcome.StartedAt.IsZero() {
				return outcomes, err
			}
			return append(outcomes, outcome), err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// CancelResult describes what a Cancel call did.
type CancelResult string

const (
	// CancelNoop means the step was not running.
	CancelNoop CancelResult = "noop"
	// CancelInProcess means the run in this process was cancelled.
	CancelInProcess CancelResult = "cancelled"
	// CancelSignalled means the owning process was sent an interrupt.
	CancelSignalled CancelResult = "signalled"
)

// Cancel stops a running step. A run owned by this process is cancelled
// directly and its subprocess group killed; a run owned by another live
// process is sent SIGINT so that process records failed{cancelled}.
// Cancelling a step that is not running is a no-op.
func (mc *Machine) Cancel(ctx context.Context, stepRef string) (CancelResult, error) {
	m := mc.manager
	step, err := resolveStep(mc.batchID, stepRef)
	if err != nil {
		return CancelNoop, err
	}
	if m.cancelActive(mc.batchID, step) {
		mc.logCancel(ctx, step, CancelInProcess)
		return CancelInProcess, nil
	}

	b, err := mc.Batch(ctx)
	if err != nil {
		return CancelNoop, err
	}
	rec, ok := b.Step(step)
	if !ok || rec.Status != batch.StepRunning {
		return CancelNoop, nil
	}
	if rec.OwnerPID <= 0 || rec.OwnerPID == m.registry.PID() {
		return CancelNoop, nil
	}
	if err := procutil.Interrupt(rec.OwnerPID); err != nil {
		return CancelNoop, services.WrapState(services.ErrCancelled, b.ID, step, string(rec.Status),
			fmt.Sprintf("signal owner process %d", rec.OwnerPID), err)
	}
	mc.logCancel(ctx, step, CancelSignalled)
	m.record(ctx, b, step, history.Entry{
		Action: history.ActionCancel,
		Status: string(rec.Status),
		Reason: string(batch.ReasonCancelled),
		Error:  fmt.Sprintf("interrupt sent to pid %d", rec.OwnerPID),
	})
	return CancelSignalled, nil
}

func (mc *Machine) logCancel(ctx context.Context, step string, result CancelResult) {
	mc.manager.stepLogger(ctx, mc.batchID, step).Info("step cancellation requested",
		logging.String(logging.FieldEventType, "step_cancel"),
		logging.String("result", string(result)),
	)
}

func historyEntry(outcome stepexec.Outcome, forced bool) history.Entry {
	entry := history.Entry{
		Action:     history.ActionRun,
		Status:     string(batch.StepCompleted),
		ReportPath: outcome.ReportPath,
		Forced:     forced,
	}
	if !outcome.StartedAt.IsZero() {
		started := outcome.StartedAt
		entry.StartedAt = &started
	}
	if !outcome.FinishedAt.IsZero() {
		finished := outcome.FinishedAt
		entry.FinishedAt = &finished
	}
	if !outcome.Success {
		entry.Status = string(batch.StepFailed)
		entry.Reason = string(outcome.Reason)
		entry.Error = outcome.ErrorDetail
	}
	return entry
}

// IsExecutionFailure reports whether err came from a step that ran and
// failed, as opposed to a rejected precondition.
func IsExecutionFailure(err error) bool {
	return errors.Is(err, services.ErrStepFailed) || errors.Is(err, services.ErrCancelled)
}
