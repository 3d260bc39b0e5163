// Package services defines shared utilities consumed by the registry, the
// batch state machine, and the external step collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, step names, and correlation
//     identifiers for logging and tracing.
//   - The error taxonomy: sentinel markers plus the Error detail type that
//     always names the batch, step, and last-known state a failure concerns.
//
// Sub-packages wrap the external tools (ffmpeg, ExifTool, spreadsheet export)
// the concrete steps delegate to.
package services
