//go:build unix

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCommandExecutorForwardsLines(t *testing.T) {
	var lines []string
	err := CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo one; echo two >&2"}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	joined := strings.Join(lines, ",")
	if !strings.Contains(joined, "one") || !strings.Contains(joined, "two") {
		t.Fatalf("expected both streams forwarded, got %v", lines)
	}
}

func TestCommandExecutorReportsExitWithTail(t *testing.T) {
	err := CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo 'bad input' >&2; exit 3"}, nil)
	if err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("expected output tail in error, got %v", err)
	}
}

func TestCommandExecutorCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := CommandExecutor{}.Run(ctx, "sh", []string{"-c", "sleep 30"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("cancellation did not stop the command")
	}
}
