//go:build linux

package procutil

import (
	"os"
	"strconv"
	"strings"
)

// StartStamp returns an identifier for when pid started, taken from the
// starttime field of /proc/<pid>/stat. A reused pid yields a different
// stamp. It returns "" when the process does not exist or cannot be read.
func StartStamp(pid int) string {
	if pid <= 0 {
		return ""
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return ""
	}
	// comm may contain spaces and parentheses; fields resume after the last ')'.
	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 || end+2 > len(stat) {
		return ""
	}
	fields := strings.Fields(stat[end+2:])
	// fields[0] is field 3 (state); starttime is field 22.
	const startTimeIndex = 22 - 3
	if len(fields) <= startTimeIndex {
		return ""
	}
	return fields[startTimeIndex]
}
