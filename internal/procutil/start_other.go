//go:build !linux

package procutil

// StartStamp is unavailable on this platform; callers fall back to liveness
// checks alone.
func StartStamp(pid int) string { return "" }
