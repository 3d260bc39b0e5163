package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"batchflow/internal/procutil"
)

// commandContext is swapped in tests.
var commandContext = exec.CommandContext

const stderrTailLines = 8

// Executor abstracts external command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// CommandExecutor runs commands in their own process group so cancelling ctx
// kills the collaborator and everything it spawned.
type CommandExecutor struct{}

// Run starts binary, forwards every stdout/stderr line to onLine, and waits.
// A non-zero exit is reported with the last lines of output attached.
func (CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	procutil.Isolate(cmd)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", filepath.Base(binary), err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		tail []string
	)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[len(tail)-stderrTailLines:]
			}
			if onLine != nil {
				onLine(line)
			}
			mu.Unlock()
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", filepath.Base(binary), ctxErr)
	}
	if waitErr != nil {
		detail := strings.TrimSpace(strings.Join(tail, "\n"))
		if detail != "" {
			return fmt.Errorf("%s failed: %w: %s", filepath.Base(binary), waitErr, detail)
		}
		return fmt.Errorf("%s failed: %w", filepath.Base(binary), waitErr)
	}
	return nil
}
