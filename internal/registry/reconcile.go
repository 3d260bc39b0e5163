package registry

import (
	"context"
	"sync"

	"batchflow/internal/batch"
	"batchflow/internal/logging"
	"batchflow/internal/services"
)

const interruptedMessage = "interrupted: the process running this step exited before it finished"

// liveSessions counts the open registries of this process by session.
type liveSessions struct {
	mu     sync.Mutex
	counts map[string]int
}

var sessions = &liveSessions{counts: make(map[string]int)}

func (s *liveSessions) acquire(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[session]++
}

func (s *liveSessions) release(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[session] <= 1 {
		delete(s.counts, session)
		return
	}
	s.counts[session]--
}

func (s *liveSessions) open(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[session] > 0
}

// reconcile marks running steps whose owner is gone as failed{interrupted}.
func (r *Registry) reconcile(ctx context.Context, doc *document) bool {
	changed := false
	for _, b := range doc.Batches {
		touched := false
		for i := range b.Steps {
			step := &b.Steps[i]
			if step.Status != batch.StepRunning || r.owns(step) {
				continue
			}
			stepCtx := services.WithStep(services.WithBatchID(ctx, b.ID), step.Name)
			logging.WarnWithContext(logging.WithContext(stepCtx, r.logger), "step was left running by an exited process",
				"step_interrupted",
				logging.Int("owner_pid", step.OwnerPID),
				logging.String("owner_session", step.OwnerSession),
				logging.String(logging.FieldErrorHint, "revert or rerun the step"),
				logging.String(logging.FieldImpact, "step marked failed (interrupted)"),
			)
			step.MarkFailed(r.now(), batch.ReasonInterrupted, interruptedMessage, "")
			touched = true
		}
		if touched {
			b.UpdatedAt = r.now()
			b.DeriveLifecycle()
			changed = true
		}
	}
	return changed
}

// owns reports whether the run recorded on step still has a live owner: an
// open registry of this process holds its session, or another process with
// the recorded pid and start stamp is still running.
func (r *Registry) owns(step *batch.StepRecord) bool {
	owner := step.Owner()
	if owner.Session != "" && sessions.open(owner.Session) {
		return true
	}
	if owner.PID <= 0 || owner.PID == r.pid || !r.alive(owner.PID) {
		return false
	}
	if owner.Started == "" {
		return true
	}
	current := r.startOf(owner.PID)
	return current == "" || current == owner.Started
}
