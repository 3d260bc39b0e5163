package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"batchflow/internal/logging"
	"batchflow/internal/notifications"
	"batchflow/internal/services"
	"batchflow/internal/stepexec"
	"batchflow/internal/steps"
	"batchflow/internal/workflow"
)

func newStepCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRunCommand(ctx),
		newRunAllCommand(ctx),
		newRevertCommand(ctx),
		newCancelCommand(ctx),
		newValidateCommand(ctx),
	}
}

type runView struct {
	BatchID   string   `json:"batch_id"`
	Step      string   `json:"step"`
	Success   bool     `json:"success"`
	Reason    string   `json:"reason,omitempty"`
	Error     string   `json:"error,omitempty"`
	Report    string   `json:"report,omitempty"`
	Processed int      `json:"processed"`
	Warnings  []string `json:"warnings,omitempty"`
	Duration  string   `json:"duration,omitempty"`
}

func newRunView(batchID string, outcome stepexec.Outcome) runView {
	view := runView{
		BatchID:   batchID,
		Step:      outcome.Step,
		Success:   outcome.Success,
		Reason:    string(outcome.Reason),
		Error:     outcome.ErrorDetail,
		Report:    outcome.ReportPath,
		Processed: outcome.Report.Processed,
		Warnings:  outcome.Warnings,
	}
	if d := outcome.Duration(); d > 0 {
		view.Duration = d.Round(time.Millisecond).String()
	}
	return view
}

func printRun(out io.Writer, view runView) {
	if view.Success {
		fmt.Fprintf(out, "%s completed in %s (%d processed)\n", view.Step, view.Duration, view.Processed)
	} else {
		fmt.Fprintf(out, "%s failed (%s): %s\n", view.Step, view.Reason, view.Error)
	}
	for _, warning := range view.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", warning)
	}
	if view.Report != "" {
		fmt.Fprintf(out, "  report: %s\n", view.Report)
	}
}

func (c *commandContext) progressPrinter(cmd *cobra.Command) func(steps.Progress) {
	if c.jsonOutput() {
		return nil
	}
	errOut := cmd.ErrOrStderr()
	return func(p steps.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(errOut, "  [%d/%d] %s\n", p.Done, p.Total, p.Message)
			return
		}
		fmt.Fprintf(errOut, "  %s\n", p.Message)
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run <batch> <step>",
		Short: "Run one step of a batch (name or 1-based position)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(manager *workflow.Manager) error {
				mc, err := manager.Machine(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				events := workflow.NewRunner(mc).Start(cmd.Context(), args[1], workflow.RunOptions{Force: force})
				progress := ctx.progressPrinter(cmd)
				var done workflow.Event
				for ev := range events {
					switch ev.Kind {
					case workflow.EventProgress:
						if progress != nil {
							progress(ev.Progress)
						}
					case workflow.EventDone:
						done = ev
					}
				}
				if done.Err != nil && !workflow.IsExecutionFailure(done.Err) {
					return done.Err
				}
				view := newRunView(mc.BatchID(), done.Outcome)
				if done.Err != nil {
					if !ctx.jsonOutput() {
						printRun(cmd.OutOrStdout(), view)
					}
					return &resultError{data: view, err: done.Err}
				}
				return ctx.respond(cmd, view, func(out io.Writer) error {
					printRun(out, view)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run even if the previous step is not completed (logged)")
	return cmd
}

type runAllView struct {
	BatchID string           `json:"batch_id"`
	Runs    []runView        `json:"runs"`
	Error   *services.Detail `json:"error,omitempty"`
}

func newRunAllCommand(ctx *commandContext) *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "run-all <batch>...",
		Short: "Run every pending step of one or more batches, stopping a batch on its first failure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(manager *workflow.Manager) error {
				started := time.Now()
				results, firstErr := runAllBatches(cmd.Context(), manager, args, parallel, ctx.progressPrinter(cmd))
				ctx.notifyRunAll(cmd, results, time.Since(started))
				if firstErr != nil {
					if !ctx.jsonOutput() {
						printRunAll(cmd.OutOrStdout(), results)
					}
					return &resultError{data: results, err: firstErr}
				}
				return ctx.respond(cmd, results, func(out io.Writer) error {
					printRunAll(out, results)
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 2, "Maximum batches processed concurrently")
	return cmd
}

// runAllBatches runs each batch on its own goroutine. A failure in one batch
// never cancels the others.
func runAllBatches(ctx context.Context, manager *workflow.Manager, refs []string, parallel int, progress func(steps.Progress)) ([]runAllView, error) {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]runAllView, len(refs))
	errs := make([]error, len(refs))
	var progressMu sync.Mutex
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, ref := range refs {
		g.Go(func() error {
			results[i].BatchID = ref
			mc, err := manager.Machine(ctx, ref)
			if err != nil {
				errs[i] = err
				detail := services.Details(err)
				results[i].Error = &detail
				return nil
			}
			results[i].BatchID = mc.BatchID()
			opts := workflow.RunOptions{}
			if progress != nil {
				opts.Progress = func(p steps.Progress) {
					progressMu.Lock()
					defer progressMu.Unlock()
					p.Message = shortID(mc.BatchID()) + " " + p.Message
					progress(p)
				}
			}
			outcomes, err := mc.RunAll(ctx, opts)
			results[i].Runs = make([]runView, 0, len(outcomes))
			for _, outcome := range outcomes {
				results[i].Runs = append(results[i].Runs, newRunView(mc.BatchID(), outcome))
			}
			if err != nil {
				errs[i] = err
				detail := services.Details(err)
				results[i].Error = &detail
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (c *commandContext) notifyRunAll(cmd *cobra.Command, results []runAllView, elapsed time.Duration) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return
	}
	failed := 0
	for _, result := range results {
		if result.Error != nil {
			failed++
		}
	}
	notifier := notifications.NewService(cfg)
	if err := notifier.RunAllFinished(context.WithoutCancel(cmd.Context()), len(results)-failed, failed, elapsed); err != nil {
		logging.WarnWithContext(c.loggerValue(), "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func printRunAll(out io.Writer, results []runAllView) {
	for _, result := range results {
		fmt.Fprintf(out, "Batch %s:\n", shortID(result.BatchID))
		if len(result.Runs) == 0 && result.Error == nil {
			fmt.Fprintln(out, "  nothing to run")
		}
		for _, run := range result.Runs {
			printRun(out, run)
		}
		if result.Error != nil && (len(result.Runs) == 0 || result.Runs[len(result.Runs)-1].Success) {
			fmt.Fprintf(out, "  error: %s\n", result.Error.Message)
		}
	}
}

func newRevertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <batch> <step>",
		Short: "Reset a step and every later step to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(manager *workflow.Manager) error {
				mc, err := manager.Machine(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				b, reset, err := mc.Revert(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				data := map[string]any{"batch": b, "reset": reset}
				return ctx.respond(cmd, data, func(out io.Writer) error {
					fmt.Fprintf(out, "Reset to pending: %s\n", strings.Join(reset, ", "))
					return nil
				})
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch> <step>",
		Short: "Cancel a running step (signals the process running it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(manager *workflow.Manager) error {
				mc, err := manager.Machine(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				result, err := mc.Cancel(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				data := map[string]string{"batch_id": mc.BatchID(), "step": args[1], "result": string(result)}
				return ctx.respond(cmd, data, func(out io.Writer) error {
					switch result {
					case workflow.CancelNoop:
						fmt.Fprintln(out, "Step is not running; nothing to cancel")
					default:
						fmt.Fprintln(out, "Cancellation requested; the step will be marked failed (cancelled)")
					}
					return nil
				})
			})
		},
	}
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "validate <batch> <step>",
		Short: "Check whether a step could run now, without changing anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(manager *workflow.Manager) error {
				mc, err := manager.Machine(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				result := mc.Validate(cmd.Context(), args[1], force)
				if !result.Ready {
					if !ctx.jsonOutput() {
						printValidation(cmd.OutOrStdout(), result)
					}
					return &resultError{data: result, err: validationError(result)}
				}
				return ctx.respond(cmd, result, func(out io.Writer) error {
					printValidation(out, result)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Validate as a forced run")
	return cmd
}

func printValidation(out io.Writer, result workflow.ValidationResult) {
	colorize := shouldColorize(out)
	if result.Ready {
		fmt.Fprintln(out, renderStatusLine(result.Step, statusOK, "ready to run", colorize))
	}
	for _, problem := range result.Problems {
		fmt.Fprintln(out, renderStatusLine(result.Step, statusError, problem.Message, colorize))
	}
	for _, warning := range result.Warnings {
		fmt.Fprintln(out, renderStatusLine(result.Step, statusWarn, warning, colorize))
	}
}

func validationError(result workflow.ValidationResult) error {
	if len(result.Problems) == 0 {
		return errors.New("step is not ready")
	}
	first := result.Problems[0]
	marker, ok := services.KindMarker(first.Kind)
	if !ok {
		return errors.New(first.Message)
	}
	return services.WrapState(marker, result.BatchID, result.Step, result.State, first.Message, nil)
}
