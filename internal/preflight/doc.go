// Package preflight provides readiness checks for the binaries, directories,
// and remote metadata sheets that pipeline steps depend on.
//
// These checks run in two contexts:
//   - "batchflow doctor" runs RunAll for the workstation and CheckSheet for
//     each active batch that names a sheet URL.
//   - Workflow validation uses ToolRequirement to report a missing binary
//     before a step is started.
package preflight
