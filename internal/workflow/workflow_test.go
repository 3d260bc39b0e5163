package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"batchflow/internal/batch"
	"batchflow/internal/config"
	"batchflow/internal/history"
	"batchflow/internal/logging"
	"batchflow/internal/pipeline"
	"batchflow/internal/registry"
	"batchflow/internal/services"
	"batchflow/internal/stepexec"
	"batchflow/internal/steps"
	"batchflow/internal/testsupport"
	"batchflow/internal/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) StepFailed(_ context.Context, _ *batch.Batch, step string, reason batch.FailureReason, _ string) error {
	r.add("failed:" + step + ":" + string(reason))
	return nil
}

func (r *recordingNotifier) BatchCompleted(_ context.Context, b *batch.Batch) error {
	r.add("completed:" + b.Name)
	return nil
}

func (r *recordingNotifier) RunAllFinished(context.Context, int, int, time.Duration) error {
	return nil
}

func (r *recordingNotifier) Test(context.Context) error { return nil }

func (r *recordingNotifier) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	cfg     *config.Config
	reg     *registry.Registry
	history *history.Store
	notes   *recordingNotifier
	manager *workflow.Manager
}

func newHarness(t *testing.T, overrides ...steps.Step) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	reg := testsupport.MustOpenRegistry(t, cfg)
	store := testsupport.MustOpenHistory(t, cfg)
	exec := stepexec.New(stepexec.Options{Steps: testsupport.FakeSteps(overrides...)})
	notes := &recordingNotifier{}
	return &harness{
		cfg:     cfg,
		reg:     reg,
		history: store,
		notes:   notes,
		manager: workflow.NewManager(workflow.Options{
			Registry: reg,
			Executor: exec,
			History:  store,
			Config:   cfg,
			Notifier: notes,
		}),
	}
}

func (h *harness) machine(t *testing.T, name string) *workflow.Machine {
	t.Helper()
	created := testsupport.NewBatch(t, h.reg, name)
	mc, err := h.manager.Machine(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}
	return mc
}

func (h *harness) batch(t *testing.T, mc *workflow.Machine) *batch.Batch {
	t.Helper()
	b, err := mc.Batch(context.Background())
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	return b
}

func assertStatuses(t *testing.T, b *batch.Batch, want ...batch.StepStatus) {
	t.Helper()
	if len(b.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(b.Steps))
	}
	for i, status := range want {
		if b.Steps[i].Status != status {
			t.Fatalf("step %d (%s): expected %s, got %s", i+1, b.Steps[i].Name, status, b.Steps[i].Status)
		}
	}
}

const (
	P = batch.StepPending
	C = batch.StepCompleted
	F = batch.StepFailed
)

func TestScenarioRunFirstStepThenRejectOutOfOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "2024-Batch1")
	assertStatuses(t, h.batch(t, mc), P, P, P, P, P, P, P, P)

	outcome, err := mc.Run(ctx, "1", workflow.RunOptions{})
	if err != nil {
		t.Fatalf("Run step 1: %v", err)
	}
	if !outcome.Success || outcome.ReportPath == "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	b := h.batch(t, mc)
	assertStatuses(t, b, C, P, P, P, P, P, P, P)
	first := b.Steps[0]
	if first.LastRunAt == nil || first.LastReportPath != outcome.ReportPath || first.OwnerPID != 0 || first.OwnerSession != "" {
		t.Fatalf("unexpected completed record %+v", first)
	}

	_, err = mc.Run(ctx, pipeline.ValidateFields, workflow.RunOptions{})
	if !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected ErrInvalidStepTransition, got %v", err)
	}
	if detail := services.Details(err); detail.Step != pipeline.ValidateFields || detail.State != string(P) {
		t.Fatalf("expected step and state in error detail, got %+v", detail)
	}
	assertStatuses(t, h.batch(t, mc), C, P, P, P, P, P, P, P)

	entries, err := h.history.List(ctx, history.Filter{BatchID: mc.BatchID()})
	if err != nil {
		t.Fatalf("history.List: %v", err)
	}
	if len(entries) != 1 || entries[0].Step != pipeline.FetchSource || entries[0].Status != string(C) {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestScenarioRunAllStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	fail := true
	h := newHarness(t, steps.Func{StepName: pipeline.EmbedMetadata, Fn: func(ctx context.Context, in steps.Input) (steps.Report, error) {
		if fail {
			return steps.Report{}, errors.New("exiftool failed: exit status 1")
		}
		return testsupport.ArtifactStep(pipeline.EmbedMetadata).Run(ctx, in)
	}})
	mc := h.machine(t, "runall")

	outcomes, err := mc.RunAll(ctx, workflow.RunOptions{})
	if !errors.Is(err, services.ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if !workflow.IsExecutionFailure(err) {
		t.Fatal("expected execution failure classification")
	}
	if len(outcomes) != 5 || outcomes[4].Success {
		t.Fatalf("expected 5 outcomes ending in failure, got %d", len(outcomes))
	}
	b := h.batch(t, mc)
	assertStatuses(t, b, C, C, C, C, F, P, P, P)
	failed := b.Steps[4]
	if failed.FailureReason != batch.ReasonStepFailed || failed.LastError != "exiftool failed: exit status 1" || failed.LastReportPath == "" {
		t.Fatalf("unexpected failed record %+v", failed)
	}

	if _, err := mc.RunAll(ctx, workflow.RunOptions{}); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected run-all to refuse a failed batch, got %v", err)
	}

	fail = false
	if _, err := mc.Run(ctx, pipeline.EmbedMetadata, workflow.RunOptions{}); err != nil {
		t.Fatalf("retry failed step: %v", err)
	}
	outcomes, err = mc.RunAll(ctx, workflow.RunOptions{})
	if err != nil || len(outcomes) != 3 {
		t.Fatalf("expected remaining 3 steps to run, got %d, %v", len(outcomes), err)
	}
	b = h.batch(t, mc)
	if b.Status != batch.LifecycleCompleted {
		t.Fatalf("expected completed lifecycle, got %s", b.Status)
	}
	notes := h.notes.snapshot()
	if len(notes) != 2 || notes[0] != "failed:embed-metadata:step_failed" || notes[1] != "completed:runall" {
		t.Fatalf("unexpected notifications %v", notes)
	}
}

func TestScenarioRevertCascadesDownstream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "revert")
	if _, err := mc.RunAll(ctx, workflow.RunOptions{}); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	assertStatuses(t, h.batch(t, mc), C, C, C, C, C, C, C, C)

	updated, reset, err := mc.Revert(ctx, "3")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if len(reset) != 6 || reset[0] != pipeline.ValidateFields {
		t.Fatalf("unexpected reset list %v", reset)
	}
	assertStatuses(t, updated, C, C, P, P, P, P, P, P)
	if updated.Status != batch.LifecycleActive {
		t.Fatalf("expected active lifecycle after revert, got %s", updated.Status)
	}
	for _, rec := range updated.Steps[2:] {
		if rec.LastRunAt != nil || rec.LastError != "" || rec.LastReportPath != "" {
			t.Fatalf("expected cleared run fields on %s, got %+v", rec.Name, rec)
		}
	}
	if updated.Steps[1].LastReportPath == "" {
		t.Fatal("expected upstream report path to be kept")
	}

	if _, _, err := mc.Revert(ctx, "3"); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected reverting a pending step to fail, got %v", err)
	}
	entries, err := h.history.List(ctx, history.Filter{BatchID: mc.BatchID(), Step: pipeline.Watermark})
	if err != nil || len(entries) != 2 || entries[0].Action != history.ActionRevert {
		t.Fatalf("expected run and cascaded revert entries, got %+v, %v", entries, err)
	}
}

func TestRevertAndRerunRejectedWhileRunning(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	h := newHarness(t, testsupport.BlockingStep(pipeline.FetchSource, started))
	mc := h.machine(t, "busy")

	events := workflow.NewRunner(mc).Start(ctx, pipeline.FetchSource, workflow.RunOptions{})
	<-started

	if _, _, err := mc.Revert(ctx, pipeline.FetchSource); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected revert of running step to fail, got %v", err)
	}
	if _, err := mc.Run(ctx, pipeline.FetchSource, workflow.RunOptions{}); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected second run to fail, got %v", err)
	}
	running := h.batch(t, mc).Steps[0]
	if running.Status != batch.StepRunning || running.OwnerSession != h.reg.Session() || running.OwnerPID != h.reg.PID() {
		t.Fatalf("unexpected running record %+v", running)
	}

	result, err := mc.Cancel(ctx, pipeline.FetchSource)
	if err != nil || result != workflow.CancelInProcess {
		t.Fatalf("Cancel: %v, %v", result, err)
	}
	done := workflow.Wait(events)
	if !errors.Is(done.Err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", done.Err)
	}
	rec := h.batch(t, mc).Steps[0]
	if rec.Status != batch.StepFailed || rec.FailureReason != batch.ReasonCancelled {
		t.Fatalf("expected failed{cancelled}, got %+v", rec)
	}

	result, err = mc.Cancel(ctx, pipeline.FetchSource)
	if err != nil || result != workflow.CancelNoop {
		t.Fatalf("expected second cancel to be a no-op, got %v, %v", result, err)
	}
}

func TestSecondRegistryInProcessDoesNotInterruptRun(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	gated := steps.Func{StepName: pipeline.FetchSource, Fn: func(ctx context.Context, in steps.Input) (steps.Report, error) {
		close(started)
		<-release
		return testsupport.ArtifactStep(pipeline.FetchSource).Run(ctx, in)
	}}
	h := newHarness(t, gated)
	mc := h.machine(t, "shared")

	events := workflow.NewRunner(mc).Start(ctx, pipeline.FetchSource, workflow.RunOptions{})
	<-started

	observer := testsupport.MustOpenRegistry(t, h.cfg)
	seen, err := observer.Get(ctx, mc.BatchID())
	if err != nil {
		t.Fatalf("Get from second registry: %v", err)
	}
	if seen.Steps[0].Status != batch.StepRunning {
		t.Fatalf("second registry interrupted a live run: %+v", seen.Steps[0])
	}

	close(release)
	done := workflow.Wait(events)
	if done.Err != nil || !done.Outcome.Success {
		t.Fatalf("expected run to finish, got %+v", done)
	}
	assertStatuses(t, h.batch(t, mc), C, P, P, P, P, P, P, P)
}

func TestRunnerStreamsProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "progress")
	for _, step := range []string{"1", "2", "3"} {
		if _, err := mc.Run(ctx, step, workflow.RunOptions{}); err != nil {
			t.Fatalf("Run %s: %v", step, err)
		}
	}

	var progress int
	var done workflow.Event
	for ev := range workflow.NewRunner(mc).Start(ctx, pipeline.ConvertFormat, workflow.RunOptions{}) {
		switch ev.Kind {
		case workflow.EventProgress:
			progress++
		case workflow.EventDone:
			done = ev
		}
	}
	if done.Err != nil || !done.Outcome.Success {
		t.Fatalf("unexpected done event %+v", done)
	}
	if progress != 2 {
		t.Fatalf("expected one progress event per image, got %d", progress)
	}
	if done.Outcome.Report.Produced != 2 || done.Outcome.Report.Expected != 2 {
		t.Fatalf("expected artifact cross-check counts, got %+v", done.Outcome.Report)
	}
}

func TestForcedRunIsFlagged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "forced")
	b := h.batch(t, mc)
	testsupport.WriteText(t, filepath.Join(b.RootPath, pipeline.SourceCSV), "identifier,title\nimg001,A\n")

	if _, err := mc.Run(ctx, pipeline.NormalizeCSV, workflow.RunOptions{}); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected predecessor check, got %v", err)
	}
	if _, err := mc.Run(ctx, pipeline.NormalizeCSV, workflow.RunOptions{Force: true}); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	rec := h.batch(t, mc).Steps[1]
	if rec.Status != batch.StepCompleted || !rec.Forced {
		t.Fatalf("expected completed forced record, got %+v", rec)
	}
	entries, err := h.history.List(ctx, history.Filter{BatchID: mc.BatchID()})
	if err != nil || len(entries) != 1 || !entries[0].Forced {
		t.Fatalf("expected forced history entry, got %+v, %v", entries, err)
	}
}

func TestRunAllSkipsStepsCompletedByForce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "forced-gap")
	b := h.batch(t, mc)
	testsupport.WriteText(t, filepath.Join(b.RootPath, pipeline.SourceCSV), "identifier,title\nimg001,A\n")
	if _, err := mc.Run(ctx, pipeline.NormalizeCSV, workflow.RunOptions{Force: true}); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	assertStatuses(t, h.batch(t, mc), P, C, P, P, P, P, P, P)

	outcomes, err := mc.RunAll(ctx, workflow.RunOptions{})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(outcomes) != 7 || outcomes[0].Step != pipeline.FetchSource || outcomes[1].Step != pipeline.ValidateFields {
		t.Fatalf("expected forced step to be skipped, got %d outcomes", len(outcomes))
	}
	assertStatuses(t, h.batch(t, mc), C, C, C, C, C, C, C, C)
}

func TestRunRejectsArchivedAndMissingInputs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "rules")
	b := h.batch(t, mc)

	if _, err := mc.Run(ctx, pipeline.NormalizeCSV, workflow.RunOptions{Force: true}); !errors.Is(err, services.ErrMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	assertStatuses(t, h.batch(t, mc), P, P, P, P, P, P, P, P)

	if _, err := mc.Run(ctx, "unknown-step", workflow.RunOptions{}); !errors.Is(err, services.ErrInvalidStepTransition) {
		t.Fatalf("expected unknown step rejection, got %v", err)
	}

	if _, err := h.reg.Archive(ctx, b.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := mc.Run(ctx, "1", workflow.RunOptions{}); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected archived batch to be rejected, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "validate")

	ready := mc.Validate(ctx, pipeline.FetchSource, false)
	if !ready.Ready || len(ready.Problems) != 0 {
		t.Fatalf("expected first step to be ready, got %+v", ready)
	}

	blocked := mc.Validate(ctx, pipeline.ConvertFormat, false)
	if blocked.Ready || len(blocked.Problems) == 0 || blocked.Problems[0].Kind != "InvalidStepTransition" {
		t.Fatalf("expected predecessor problem, got %+v", blocked)
	}

	h.cfg.Tools.FFmpeg = "clearly-missing-ffmpeg"
	missing := mc.Validate(ctx, pipeline.ConvertFormat, true)
	found := false
	for _, problem := range missing.Problems {
		if problem.Kind == "MissingPrerequisite" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing binary problem, got %+v", missing)
	}
	assertStatuses(t, h.batch(t, mc), P, P, P, P, P, P, P, P)
}

func TestCrashLeavesStepInterrupted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mc := h.machine(t, "crash")

	// Simulate a process that marked step 1 running and then died.
	if _, err := h.reg.Update(ctx, mc.BatchID(), func(b *batch.Batch) error {
		b.Steps[0].MarkRunning(time.Now().UTC(), batch.Owner{PID: 1 << 22, Session: "dead-session"}, false)
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	restarted := testsupport.MustOpenRegistry(t, h.cfg, func(o *registry.Options) {
		o.ProcessAlive = func(int) bool { return false }
	})
	b, err := restarted.Get(ctx, mc.BatchID())
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	rec := b.Steps[0]
	if rec.Status != batch.StepFailed || rec.FailureReason != batch.ReasonInterrupted || rec.LastError == "" {
		t.Fatalf("expected failed{interrupted}, got %+v", rec)
	}

	exec := stepexec.New(stepexec.Options{Steps: testsupport.FakeSteps()})
	manager := workflow.NewManager(workflow.Options{Registry: restarted, Executor: exec, Config: h.cfg})
	again, err := manager.Machine(ctx, mc.BatchID()[:8])
	if err != nil {
		t.Fatalf("Machine by prefix: %v", err)
	}
	if _, err := again.Run(ctx, pipeline.FetchSource, workflow.RunOptions{}); err != nil {
		t.Fatalf("rerun interrupted step: %v", err)
	}
}

func startedCorrelationIDs(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if record["msg"] == "step started" {
			id, _ := record[logging.FieldCorrelationID].(string)
			ids = append(ids, id)
		}
	}
	return ids
}

func TestRunsCarryCorrelationID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	logPath := filepath.Join(t.TempDir(), "workflow.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	exec := stepexec.New(stepexec.Options{Steps: testsupport.FakeSteps(), Logger: logger})
	manager := workflow.NewManager(workflow.Options{Registry: h.reg, Executor: exec, Config: h.cfg, Logger: logger})
	created := testsupport.NewBatch(t, h.reg, "correlated")
	mc, err := manager.Machine(ctx, created.ID)
	if err != nil {
		t.Fatalf("Machine: %v", err)
	}

	if _, err := mc.RunAll(ctx, workflow.RunOptions{}); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	ids := startedCorrelationIDs(t, logPath)
	if len(ids) != len(pipeline.Names()) || ids[0] == "" {
		t.Fatalf("expected a correlation id on every step start, got %q", ids)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one correlation id for the whole run, got %q", ids)
		}
	}

	if _, _, err := mc.Revert(ctx, pipeline.Watermark); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if _, err := mc.Run(services.WithRequestID(ctx, "operator-run-1"), pipeline.Watermark, workflow.RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ids = startedCorrelationIDs(t, logPath)
	if last := ids[len(ids)-1]; last != "operator-run-1" {
		t.Fatalf("expected caller's correlation id to be kept, got %q", last)
	}
}
