package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"batchflow/internal/config"
	"batchflow/internal/logging"
	"batchflow/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, false)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.FileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerPromotesBatchAndStep(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithBatchID(context.Background(), "0123456789abcdef")
	ctx = services.WithStep(ctx, "resize")
	ctx = services.WithRequestID(ctx, "req-5")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).Info("step started", logging.Int("attempt", 1))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{"workflow: ", "[batch 01234567 · resize]", "step started", "attempt=1", "correlation_id=req-5"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, "batch_id=") {
		t.Fatalf("expected batch_id to be promoted into the subject, got %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRequestID(services.WithBatchID(context.Background(), "b-1"), "req-9")
	logging.WarnWithContext(logging.WithContext(ctx, logger), "forced run", "step_force")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if record[logging.FieldBatchID] != "b-1" || record[logging.FieldCorrelationID] != "req-9" {
		t.Fatalf("missing context fields: %#v", record)
	}
	if record[logging.FieldEventType] != "step_force" || record[logging.FieldErrorHint] == nil || record[logging.FieldImpact] == nil {
		t.Fatalf("expected enforced warning fields, got %#v", record)
	}
	if record["level"] != "warn" {
		t.Fatalf("unexpected level %#v", record["level"])
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected nop logger to be disabled")
	}
}

func TestFormatSubject(t *testing.T) {
	cases := []struct {
		batch, step, want string
	}{
		{"", "", ""},
		{"abc", "", "batch abc"},
		{"", "resize", "resize"},
		{"abcdefghijk", "resize", "batch abcdefgh · resize"},
	}
	for _, tc := range cases {
		if got := logging.FormatSubject(tc.batch, tc.step); got != tc.want {
			t.Fatalf("FormatSubject(%q, %q) = %q, want %q", tc.batch, tc.step, got, tc.want)
		}
	}
}
