package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"batchflow/internal/batch"
	"batchflow/internal/pipeline"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func progressText(b *batch.Batch) string {
	counts := b.Counts()
	text := fmt.Sprintf("%d/%d", counts[batch.StepCompleted], len(b.Steps))
	if n := counts[batch.StepFailed]; n > 0 {
		text += fmt.Sprintf(" (%d failed)", n)
	}
	return text
}

// nextStep describes the step an operator would act on next.
func nextStep(b *batch.Batch) string {
	if rec, ok := b.RunningStep(); ok {
		return rec.Name + " (running)"
	}
	for i := range b.Steps {
		switch b.Steps[i].Status {
		case batch.StepFailed:
			return b.Steps[i].Name + " (failed)"
		case batch.StepPending:
			return b.Steps[i].Name
		}
	}
	return "-"
}

func renderBatchList(out io.Writer, batches []*batch.Batch, colorize bool) {
	if len(batches) == 0 {
		fmt.Fprintln(out, "No batches registered")
		return
	}
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		updated := b.UpdatedAt
		rows = append(rows, []string{
			shortID(b.ID),
			b.Name,
			string(b.Status),
			progressText(b),
			nextStep(b),
			formatTime(&updated),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		{title: "ID"},
		{title: "Name"},
		{title: "Status", status: true},
		{title: "Steps", align: alignRight},
		{title: "Next"},
		{title: "Updated"},
	}, rows, colorize))
}

func renderBatchDetail(out io.Writer, b *batch.Batch, colorize bool) {
	created, updated := b.CreatedAt, b.UpdatedAt
	fmt.Fprintf(out, "Batch:   %s (%s)\n", b.Name, b.ID)
	fmt.Fprintf(out, "Root:    %s\n", b.RootPath)
	fmt.Fprintf(out, "Status:  %s, %s steps completed\n", b.Status, progressText(b))
	fmt.Fprintf(out, "Created: %s\n", formatTime(&created))
	fmt.Fprintf(out, "Updated: %s\n", formatTime(&updated))

	rows := make([][]string, 0, len(b.Steps))
	for i, rec := range b.Steps {
		label := rec.Name
		if def, ok := pipeline.Lookup(rec.Name); ok {
			label = def.Label()
		}
		if rec.Forced {
			label += " (forced)"
		}
		note := rec.LastError
		if rec.Status == batch.StepRunning {
			note = fmt.Sprintf("pid %d since %s", rec.OwnerPID, formatTime(rec.StartedAt))
		} else if note == "" {
			note = rec.LastReportPath
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			label,
			string(rec.Status),
			formatTime(rec.LastRunAt),
			strings.TrimSpace(note),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		{title: "#", align: alignRight},
		{title: "Step"},
		{title: "Status", status: true},
		{title: "Last run"},
		{title: "Detail", wide: true},
	}, rows, colorize))
}
