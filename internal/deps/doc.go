// Package deps reports whether the external binaries used by pipeline
// steps can be found on PATH.
package deps
