// Package batchpath resolves the working directories each pipeline step reads
// from and writes to inside a batch root.
//
// Input resolution never creates anything; it reports the exact missing
// directory or file through services.ErrMissingPrerequisite so the state
// machine can reject a run before mutating the registry. Output resolution
// creates the directory on demand. CheckRoot applies the same existence,
// directory and writability rules the registry uses when a batch is created.
package batchpath
