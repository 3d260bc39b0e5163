// Package steps implements the concrete pipeline steps.
//
// Every step satisfies Step and is invoked only through the step executor,
// which resolves its directories, loads the batch configuration, applies the
// run timeout and writes the report. Steps read their input directory,
// write into their output directory, and return a Report; any returned error
// fails the run. Steps never touch the registry.
package steps
