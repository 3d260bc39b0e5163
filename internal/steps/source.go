package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"batchflow/internal/fileutil"
	"batchflow/internal/pipeline"
	"batchflow/internal/services/sheets"
)

// FetchSource downloads source.sheet_url into sheet/source.csv. When no URL
// is configured an operator-supplied source.csv is accepted as-is.
type FetchSource struct {
	Client *sheets.Client
}

// Name implements Step.
func (FetchSource) Name() string { return pipeline.FetchSource }

// Run implements Step.
func (s FetchSource) Run(ctx context.Context, in Input) (Report, error) {
	var report Report
	target := filepath.Join(in.OutputDir, filepath.Base(pipeline.SourceCSV))
	sheetURL := in.Config.String("source.sheet_url")
	if sheetURL == "" {
		if fileutil.Exists(target) {
			records, err := ReadRecords(target)
			if err != nil {
				return report, err
			}
			report.Processed = len(records.Rows)
			report.Detail("source", "existing file")
			report.Warn("source.sheet_url is not set; using existing %s", target)
			return report, nil
		}
		return report, errors.New("source.sheet_url is not set and no source.csv was supplied")
	}
	if s.Client == nil {
		return report, errors.New("sheet client unavailable")
	}

	in.report(0, 1, "downloading %s", sheetURL)
	data, err := s.Client.FetchCSV(ctx, sheetURL)
	if err != nil {
		return report, err
	}
	records, err := ParseRecords(data)
	if err != nil {
		return report, fmt.Errorf("downloaded sheet is not valid csv: %w", err)
	}
	if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
		return report, fmt.Errorf("write %s: %w", target, err)
	}
	in.report(1, 1, "downloaded %d rows", len(records.Rows))
	report.Processed = len(records.Rows)
	report.Detail("source", sheetURL)
	report.Detail("bytes", len(data))
	return report, nil
}

// NormalizeCSV rewrites the raw sheet into metadata/records.csv with
// normalized headers, trimmed cells, no blank rows, and one unique
// identifier per row.
type NormalizeCSV struct{}

// Name implements Step.
func (NormalizeCSV) Name() string { return pipeline.NormalizeCSV }

// Run implements Step.
func (NormalizeCSV) Run(ctx context.Context, in Input) (Report, error) {
	var report Report
	source := filepath.Join(in.InputDir, filepath.Base(pipeline.SourceCSV))
	records, err := ReadRecords(source)
	if err != nil {
		return report, err
	}

	idColumn := NormalizeHeader(in.Config.String("source.identifier_column"))
	if idColumn == "" {
		idColumn = "identifier"
	}
	prefix := in.Config.String("source.identifier")
	if !records.HasColumn(idColumn) {
		if prefix == "" {
			return report, fmt.Errorf("column %q not found and source.identifier is not set", idColumn)
		}
		records.Header = append([]string{idColumn}, records.Header...)
	}

	seen := make(map[string]int, len(records.Rows))
	generated := 0
	for i, row := range records.Rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := row[idColumn]
		if id == "" && prefix != "" {
			id = fmt.Sprintf("%s-%04d", prefix, i+1)
			row[idColumn] = id
			generated++
		}
		if id == "" {
			return report, fmt.Errorf("row %d has no %s", i+2, idColumn)
		}
		key := strings.ToLower(id)
		if first, dup := seen[key]; dup {
			return report, fmt.Errorf("identifier %q appears on rows %d and %d", id, first+2, i+2)
		}
		seen[key] = i
	}

	data, err := records.Encode()
	if err != nil {
		return report, fmt.Errorf("encode records: %w", err)
	}
	target := filepath.Join(in.OutputDir, filepath.Base(pipeline.RecordsCSV))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return report, err
	}
	if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
		return report, fmt.Errorf("write %s: %w", target, err)
	}
	report.Processed = len(records.Rows)
	report.Detail("columns", records.Header)
	if generated > 0 {
		report.Detail("generated_identifiers", generated)
	}
	return report, nil
}
