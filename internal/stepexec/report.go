package stepexec

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"batchflow/internal/batch"
	"batchflow/internal/batchconfig"
	"batchflow/internal/fileutil"
	"batchflow/internal/pipeline"
	"batchflow/internal/steps"
)

// ReportDocument is the YAML file written for every run.
type ReportDocument struct {
	BatchID    string            `yaml:"batch_id"`
	BatchName  string            `yaml:"batch_name"`
	Step       string            `yaml:"step"`
	Position   int               `yaml:"position"`
	Status     batch.StepStatus  `yaml:"status"`
	Reason     string            `yaml:"reason,omitempty"`
	Error      string            `yaml:"error,omitempty"`
	StartedAt  time.Time         `yaml:"started_at"`
	FinishedAt time.Time         `yaml:"finished_at"`
	Duration   string            `yaml:"duration"`
	Config     map[string]string `yaml:"config,omitempty"`
	Result     steps.Report      `yaml:"result"`
}

// ReadReport parses a report written by Execute.
func ReadReport(path string) (ReportDocument, error) {
	var doc ReportDocument
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read report: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse report %s: %w", path, err)
	}
	return doc, nil
}

func (e *Executor) writeReport(b *batch.Batch, step string, outcome Outcome, cfg batchconfig.Config) (string, error) {
	dir, err := e.paths.ReportDir(b)
	if err != nil {
		return "", err
	}
	doc := ReportDocument{
		BatchID:    b.ID,
		BatchName:  b.Name,
		Step:       step,
		Position:   pipeline.Index(step),
		Status:     batch.StepCompleted,
		StartedAt:  outcome.StartedAt,
		FinishedAt: outcome.FinishedAt,
		Duration:   outcome.Duration().Round(time.Millisecond).String(),
		Result:     outcome.Report,
	}
	if !outcome.Success {
		doc.Status = batch.StepFailed
		doc.Reason = string(outcome.Reason)
		doc.Error = outcome.ErrorDetail
	}
	if entries := cfg.Flatten(); len(entries) > 0 {
		doc.Config = make(map[string]string, len(entries))
		for _, entry := range entries {
			doc.Config[entry.Key] = entry.Value
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := reportPath(dir, doc.Position, step, outcome.StartedAt)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func reportPath(dir string, position int, step string, started time.Time) string {
	base := fmt.Sprintf("%02d-%s-%s", position, step, started.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, base+".yaml")
	for n := 2; fileutil.Exists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.yaml", base, n))
	}
	return path
}
