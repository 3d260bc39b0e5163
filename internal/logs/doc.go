// Package logs reads and follows the batchflow log file with bounded memory.
//
// Last returns the final N lines together with the byte offset reached, and
// Follow polls from an offset until the context is cancelled, so a CLI can
// print recent history and then stream new lines.
package logs
