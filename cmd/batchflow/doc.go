// Package main hosts the batchflow CLI entrypoint and command graph.
//
// The Cobra command tree opens the batch registry, the run journal, and the
// workflow manager for each invocation, then maps terminal arguments onto
// registry and state machine operations. Every command accepts --json and
// then prints a single {"success", "data", "error"} envelope on stdout.
//
// Keep this package lean: behavior lives in the internal packages and is
// only surfaced here.
package main
