package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"batchflow/internal/history"
	"batchflow/internal/pipeline"
	"batchflow/internal/registry"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var step string
	cmd := &cobra.Command{
		Use:   "history [batch]",
		Short: "Show the run journal, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := history.Filter{Limit: limit}
			if step != "" {
				name, ok := pipeline.Resolve(step)
				if !ok {
					return fmt.Errorf("unknown step %q", step)
				}
				filter.Step = name
			}
			if len(args) == 1 {
				if err := ctx.withRegistry(func(reg *registry.Registry) error {
					b, err := reg.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					filter.BatchID = b.ID
					return nil
				}); err != nil {
					return err
				}
			}
			return ctx.withHistory(func(store *history.Store) error {
				if store == nil {
					return fmt.Errorf("run history is unavailable; see the log for details")
				}
				entries, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []history.Entry{}
				}
				return ctx.respond(cmd, entries, func(out io.Writer) error {
					renderHistory(out, entries)
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show (0 for all)")
	cmd.Flags().StringVarP(&step, "step", "s", "", "Only show entries for this step")
	return cmd
}

func renderHistory(out io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history recorded")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		recorded := entry.RecordedAt
		status := entry.Status
		if entry.Reason != "" {
			status += " (" + entry.Reason + ")"
		}
		if entry.Forced {
			status += " forced"
		}
		duration := "-"
		if entry.StartedAt != nil && entry.FinishedAt != nil {
			duration = entry.FinishedAt.Sub(*entry.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			formatTime(&recorded),
			shortID(entry.BatchID),
			entry.Step,
			string(entry.Action),
			status,
			duration,
			entry.Error,
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		{title: "When"},
		{title: "Batch"},
		{title: "Step"},
		{title: "Action"},
		{title: "Result", status: true},
		{title: "Duration", align: alignRight},
		{title: "Detail", wide: true},
	}, rows, shouldColorize(out)))
}
