// Package config loads, normalizes, and validates batchflow application
// configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BATCHFLOW_REGISTRY. The Config type centralizes the knobs the CLI needs:
// where the batch registry lives, how long to wait on its lock, which
// external tool binaries the steps invoke, and the pipeline-wide default
// batch parameters that per-batch overrides are merged onto.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
