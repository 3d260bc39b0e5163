// Package logging assembles structured slog loggers and formatting helpers used
// across batchflow.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so step code automatically tags log lines with
// batch IDs, step names, and correlation IDs. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
