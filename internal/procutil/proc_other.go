//go:build !unix

package procutil

import (
	"os"
	"os/exec"
)

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}

// Isolate is a no-op where process groups are unavailable; cancellation
// falls back to killing the direct child.
func Isolate(cmd *exec.Cmd) {}

// KillGroup kills the single process pid.
func KillGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

// Interrupt sends os.Interrupt to pid.
func Interrupt(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Signal(os.Interrupt)
}
