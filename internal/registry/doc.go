// Package registry persists the catalog of batches.
//
// The catalog is a single JSON document. Every call, reads included, takes a
// cross-process file lock (gofrs/flock on "<registry>.lock") with a bounded
// wait, re-reads the document, reconciles runs abandoned by dead processes,
// applies its change and replaces the file through a same-directory temp file
// and rename. A document that fails to parse is reported as
// services.ErrRegistryCorrupt and is never overwritten.
//
// Batches handed to callers are deep copies; mutation happens only through
// Update and the lifecycle operations.
package registry
