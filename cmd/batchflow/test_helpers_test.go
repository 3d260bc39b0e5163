package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"batchflow/internal/config"
	"batchflow/internal/pipeline"
	"batchflow/internal/services"
	"batchflow/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	batchRoot  string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	root := testsupport.NewBatchDir(t)
	testsupport.WriteText(t, filepath.Join(root, pipeline.SourceCSV),
		"Identifier,Title\nimg001,Harbour at dawn\nimg002,Market square\n")

	return &cliTestEnv{cfg: cfg, configPath: configPath, batchRoot: root}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

type testEnvelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *services.Detail `json:"error"`
}

func runJSON(t *testing.T, env *cliTestEnv, args ...string) (testEnvelope, error) {
	t.Helper()
	out, _, err := runCLI(t, env, append([]string{"--json"}, args...)...)
	var envl testEnvelope
	if decodeErr := json.Unmarshal([]byte(out), &envl); decodeErr != nil {
		t.Fatalf("decode envelope for %v: %v\n%s", args, decodeErr, out)
	}
	return envl, err
}

func decodeData(t *testing.T, envl testEnvelope, v any) {
	t.Helper()
	if err := json.Unmarshal(envl.Data, v); err != nil {
		t.Fatalf("decode data: %v\n%s", err, envl.Data)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q to contain %q", haystack, needle)
	}
}
