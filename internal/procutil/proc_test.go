//go:build unix

package procutil_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"batchflow/internal/procutil"
)

func TestAlive(t *testing.T) {
	if !procutil.Alive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
	if procutil.Alive(0) || procutil.Alive(-1) {
		t.Fatal("expected non-positive pids to be reported dead")
	}
}

func TestIsolateKillsGroupOnCancel(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30 & wait")
	procutil.Isolate(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	time.AfterFunc(100*time.Millisecond, cancel)
	err := cmd.Wait()
	if err == nil {
		t.Fatal("expected cancelled command to fail")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", ctx.Err())
	}
	if procutil.Alive(pid) {
		t.Fatalf("expected process %d to be gone", pid)
	}
}

func TestStartStampIdentifiesProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("start stamps are read from /proc")
	}
	self := procutil.StartStamp(os.Getpid())
	if self == "" {
		t.Fatal("expected a start stamp for the current process")
	}
	if again := procutil.StartStamp(os.Getpid()); again != self {
		t.Fatalf("start stamp changed: %q then %q", self, again)
	}
	if procutil.StartStamp(0) != "" || procutil.StartStamp(1<<30) != "" {
		t.Fatal("expected empty stamps for missing processes")
	}
}
