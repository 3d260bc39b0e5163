// Package stepexec is the single seam between the state machine and the
// concrete steps.
//
// Execute loads the batch configuration, resolves the step's directories,
// runs the step under the configured timeout, cross-checks produced
// artifacts against the metadata record count, and writes a YAML report into
// the batch's reports directory for every run, successful or not. It never
// touches the registry and keeps no state between calls; guarding against
// concurrent or repeated runs is the state machine's job.
package stepexec
