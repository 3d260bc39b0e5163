// Package history keeps an append-only journal of step runs, reverts, and
// cancellations in SQLite. The registry remains the source of truth for
// current state; the journal answers "what happened to this batch, and when".
package history
