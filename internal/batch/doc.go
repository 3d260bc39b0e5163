// Package batch defines the persisted data model shared by the registry, the
// path manager, and the batch state machine: a Batch with its ordered
// StepRecords, their status enums, and the transition table that decides
// which step status changes are legal.
//
// The registry is the only writer of these records; everything else works on
// clones returned from it.
package batch
