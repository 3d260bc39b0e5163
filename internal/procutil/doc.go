// Package procutil inspects and signals local processes: liveness checks for
// registry run owners and process-group handling for step collaborators.
package procutil
