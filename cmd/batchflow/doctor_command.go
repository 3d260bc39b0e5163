package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"batchflow/internal/preflight"
	"batchflow/internal/registry"
)

type doctorView struct {
	Workstation []preflight.Result `json:"workstation"`
	Batches     []doctorBatch      `json:"batches"`
}

type doctorBatch struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Checks   []preflight.Result `json:"checks"`
	Problems []string           `json:"problems,omitempty"`
}

func (v doctorView) failed() int {
	count := 0
	for _, result := range v.Workstation {
		if !result.Passed {
			count++
		}
	}
	for _, b := range v.Batches {
		for _, result := range b.Checks {
			if !result.Passed {
				count++
			}
		}
	}
	return count
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, external tools and active batch configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			configs, err := ctx.configManager()
			if err != nil {
				return err
			}
			view := doctorView{Workstation: preflight.RunAll(cfg), Batches: []doctorBatch{}}
			client := &http.Client{Timeout: cfg.HTTPTimeout()}

			if err := ctx.withRegistry(func(reg *registry.Registry) error {
				batches, err := reg.List(cmd.Context(), false)
				if err != nil {
					return err
				}
				for _, b := range batches {
					entry := doctorBatch{ID: b.ID, Name: b.Name}
					bc, err := configs.Load(b)
					if err != nil {
						entry.Checks = append(entry.Checks, preflight.Result{Name: "Batch config", Detail: err.Error()})
						view.Batches = append(view.Batches, entry)
						continue
					}
					entry.Checks = append(entry.Checks,
						preflight.CheckDirectoryAccess("Batch root", b.RootPath),
						preflight.CheckSheet(cmd.Context(), client, bc.String("source.sheet_url")),
					)
					entry.Problems = bc.Problems()
					view.Batches = append(view.Batches, entry)
				}
				return nil
			}); err != nil {
				return err
			}

			failed := view.failed()
			var checkErr error
			if failed > 0 {
				checkErr = fmt.Errorf("%d check(s) failed", failed)
			}
			if ctx.jsonOutput() && checkErr != nil {
				return &resultError{data: view, err: checkErr}
			}
			if err := ctx.respond(cmd, view, func(out io.Writer) error {
				renderDoctor(out, view)
				return nil
			}); err != nil {
				return err
			}
			return checkErr
		},
	}
}

func renderDoctor(out io.Writer, view doctorView) {
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Workstation", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, result := range view.Workstation {
		fmt.Fprintln(out, renderStatusLine(result.Name, resultKind(result), result.Detail, colorize))
	}
	for _, b := range view.Batches {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader(fmt.Sprintf("Batch %s (%s)", b.Name, shortID(b.ID)), colorize) {
			fmt.Fprintln(out, line)
		}
		for _, result := range b.Checks {
			fmt.Fprintln(out, renderStatusLine(result.Name, resultKind(result), result.Detail, colorize))
		}
		for _, problem := range b.Problems {
			fmt.Fprintln(out, renderStatusLine("Config", statusWarn, problem, colorize))
		}
	}
}

func resultKind(result preflight.Result) statusKind {
	if result.Passed {
		return statusOK
	}
	return statusError
}
