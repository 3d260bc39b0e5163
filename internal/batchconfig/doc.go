// Package batchconfig layers per-batch processing parameters.
//
// Three layers are merged for every read: the built-in step defaults from
// package pipeline, the workstation-wide [pipeline] table of the application
// config, and the batch's own batchflow.toml overrides. Only the override
// layer is ever written, and only through Save, Set, and Unset; the step
// executor reads configuration but never persists it.
//
// Values are normalized to the shapes go-toml decodes into (int64, float64,
// []any, map[string]any) so a Save followed by a Load compares equal.
package batchconfig
