package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"batchflow/internal/services"
)

// errReported marks an error whose envelope was already printed.
var errReported = errors.New("reported")

type envelope struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *services.Detail `json:"error,omitempty"`
}

// resultError carries partial data alongside a failure, such as the
// outcome of a step that ran and failed.
type resultError struct {
	data any
	err  error
}

func (e *resultError) Error() string { return e.err.Error() }
func (e *resultError) Unwrap() error { return e.err }

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// respond prints data as an envelope in JSON mode, or calls human.
func (c *commandContext) respond(cmd *cobra.Command, data any, human func(io.Writer) error) error {
	if c.jsonOutput() {
		return writeJSON(cmd, envelope{Success: true, Data: data})
	}
	if human == nil {
		return nil
	}
	return human(cmd.OutOrStdout())
}

// wrapErrors converts command errors into JSON envelopes when --json is set.
func wrapErrors(cmd *cobra.Command, ctx *commandContext) {
	for _, child := range cmd.Commands() {
		wrapErrors(child, ctx)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil || !ctx.jsonOutput() {
			return err
		}
		detail := services.Details(err)
		env := envelope{Success: false, Error: &detail}
		var partial *resultError
		if errors.As(err, &partial) {
			env.Data = partial.data
		}
		if writeErr := writeJSON(cmd, env); writeErr != nil {
			return errors.Join(err, writeErr)
		}
		return errReported
	}
}
