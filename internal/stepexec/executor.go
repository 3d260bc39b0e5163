package stepexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"batchflow/internal/batch"
	"batchflow/internal/batchconfig"
	"batchflow/internal/batchpath"
	"batchflow/internal/logging"
	"batchflow/internal/pipeline"
	"batchflow/internal/services"
	"batchflow/internal/steps"
)

// Options configures an Executor.
type Options struct {
	Steps   *steps.Set
	Paths   *batchpath.Manager
	Configs *batchconfig.Manager
	Logger  *slog.Logger
	// Timeout bounds one run; zero disables it.
	Timeout time.Duration
	Now     func() time.Time
}

// Executor runs one step of one batch.
type Executor struct {
	steps   *steps.Set
	paths   *batchpath.Manager
	configs *batchconfig.Manager
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Step        string
	Success     bool
	Reason      batch.FailureReason
	ReportPath  string
	ErrorDetail string
	Err         error
	Warnings    []string
	Report      steps.Report
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the wall time of the run.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() || o.StartedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// New constructs an Executor.
func New(opts Options) *Executor {
	e := &Executor{
		steps:   opts.Steps,
		paths:   opts.Paths,
		configs: opts.Configs,
		logger:  logging.NewComponentLogger(opts.Logger, "stepexec"),
		timeout: opts.Timeout,
		now:     opts.Now,
	}
	if e.paths == nil {
		e.paths = batchpath.New()
	}
	if e.configs == nil {
		e.configs = batchconfig.NewManager(nil, e.paths)
	}
	if e.steps == nil {
		e.steps = steps.NewSet()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Paths returns the path manager used for resolution.
func (e *Executor) Paths() *batchpath.Manager { return e.paths }

// Configs returns the configuration manager used for runs.
func (e *Executor) Configs() *batchconfig.Manager { return e.configs }

// Check performs every read-only precondition of a run: the step exists and
// has an implementation, configuration loads, and the input directory with
// its required files is present.
func (e *Executor) Check(b *batch.Batch, step string) error {
	if _, ok := pipeline.Lookup(step); !ok {
		return services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "unknown step", nil)
	}
	if _, ok := e.steps.Lookup(step); !ok {
		return services.Wrap(services.ErrInvalidStepTransition, b.ID, step, "step has no implementation", nil)
	}
	if _, err := e.configs.Load(b); err != nil {
		return err
	}
	if _, err := e.paths.Resolve(b, step, batchpath.RoleInput); err != nil {
		return err
	}
	return nil
}

// Execute runs step against b and always returns an Outcome. Success is
// false for any error, panic, timeout or cancellation.
func (e *Executor) Execute(ctx context.Context, step string, b *batch.Batch, progress func(steps.Progress)) Outcome {
	outcome := Outcome{Step: step, StartedAt: e.now()}
	stepCtx := services.WithStep(services.WithBatchID(ctx, b.ID), step)
	logger := logging.WithContext(stepCtx, e.logger)

	logger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.String("root", b.RootPath),
	)

	report, cfg, runErr := e.run(stepCtx, step, b, progress)
	outcome.FinishedAt = e.now()

	if runErr == nil {
		e.crossCheck(b, step, &report)
	}
	outcome.Report = report
	outcome.Warnings = report.Warnings

	if runErr != nil {
		outcome.Err = runErr
		outcome.Reason = classify(ctx, runErr)
		outcome.ErrorDetail = detail(runErr, e.timeout)
	} else {
		outcome.Success = true
	}

	reportPath, writeErr := e.writeReport(b, step, outcome, cfg)
	outcome.ReportPath = reportPath
	if writeErr != nil {
		logging.ErrorWithContext(logger, "step report not written", "step_report_failed",
			logging.Error(writeErr),
			logging.String(logging.FieldErrorHint, "check that the batch reports directory is writable"))
		if outcome.Success {
			outcome.Success = false
			outcome.Reason = batch.ReasonStepFailed
			outcome.Err = writeErr
			outcome.ErrorDetail = fmt.Sprintf("write report: %v", writeErr)
		}
	}

	if outcome.Success {
		logger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
			logging.Int("processed", report.Processed),
			logging.Int("warnings", len(report.Warnings)),
			logging.Duration("duration", outcome.Duration()),
			logging.String("report", outcome.ReportPath),
		)
		for _, warning := range report.Warnings {
			logging.WarnWithContext(logger, "step warning", "step_warning",
				logging.String("warning", warning),
				logging.String(logging.FieldErrorHint, "review the step report"),
				logging.String(logging.FieldImpact, "step completed; output may need manual review"))
		}
	} else {
		logging.ErrorWithContext(logger, "step failed", "step_failure",
			logging.String("reason", string(outcome.Reason)),
			logging.String("error_message", outcome.ErrorDetail),
			logging.String("report", outcome.ReportPath),
			logging.String(logging.FieldErrorHint, failureHint(outcome.Reason)),
		)
	}
	return outcome
}

func (e *Executor) run(ctx context.Context, name string, b *batch.Batch, progress func(steps.Progress)) (report steps.Report, cfg batchconfig.Config, err error) {
	def, ok := pipeline.Lookup(name)
	if !ok {
		return report, cfg, services.Wrap(services.ErrInvalidStepTransition, b.ID, name, "unknown step", nil)
	}
	step, ok := e.steps.Lookup(name)
	if !ok {
		return report, cfg, services.Wrap(services.ErrInvalidStepTransition, b.ID, name, "step has no implementation", nil)
	}
	cfg, err = e.configs.Load(b)
	if err != nil {
		return report, cfg, err
	}
	inDir, err := e.paths.Resolve(b, name, batchpath.RoleInput)
	if err != nil {
		return report, cfg, err
	}
	outDir, err := e.paths.Resolve(b, name, batchpath.RoleOutput)
	if err != nil {
		return report, cfg, err
	}
	var inputs []string
	if def.InputPattern != "" {
		if inputs, err = e.paths.Inputs(b, name); err != nil {
			return report, cfg, err
		}
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("step panic stack", logging.String("stack", string(debug.Stack())))
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()

	report, err = step.Run(runCtx, steps.Input{
		Batch:      b.Clone(),
		Definition: def,
		InputDir:   inDir,
		OutputDir:  outDir,
		Inputs:     inputs,
		Config:     cfg,
		Paths:      e.paths,
		Logger:     logging.WithContext(ctx, e.logger),
		Progress:   progress,
	})
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	return report, cfg, err
}

func (e *Executor) crossCheck(b *batch.Batch, name string, report *steps.Report) {
	def, ok := pipeline.Lookup(name)
	if !ok || !def.CountsRecords {
		return
	}
	expected, err := e.paths.ExpectedRecords(b)
	if err != nil {
		report.Warn("could not count metadata records: %v", err)
		return
	}
	produced, err := e.paths.CountArtifacts(b, def.OutputDir, def.Artifacts)
	if err != nil {
		report.Warn("could not count %s artifacts: %v", def.OutputDir, err)
		return
	}
	report.Expected = expected
	report.Produced = produced
	if expected > 0 && produced != expected {
		report.Warn("produced %d %s files for %d metadata records", produced, def.OutputDir, expected)
	}
}

// classify maps an execution error to the failure reason stored on the step.
// Cancellation of the caller's context is "cancelled"; the run's own
// timeout is an ordinary step failure.
func classify(parent context.Context, err error) batch.FailureReason {
	if errors.Is(err, services.ErrCancelled) {
		return batch.ReasonCancelled
	}
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return batch.ReasonCancelled
	}
	return batch.ReasonStepFailed
}

func detail(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) && timeout > 0 {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	message := strings.TrimSpace(services.Details(err).Message)
	if message == "" {
		message = strings.TrimSpace(err.Error())
	}
	return message
}

func failureHint(reason batch.FailureReason) string {
	switch reason {
	case batch.ReasonCancelled:
		return "rerun the step when ready"
	default:
		return "fix the cause shown in the step report, then revert and rerun the step"
	}
}
