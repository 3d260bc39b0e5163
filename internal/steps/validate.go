package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"batchflow/internal/fileutil"
	"batchflow/internal/pipeline"
)

const maxListedProblems = 20

// ValidationSummary is written to metadata/validation.yaml.
type ValidationSummary struct {
	Records         int                 `yaml:"records"`
	Images          int                 `yaml:"images"`
	RequiredFields  []string            `yaml:"required_fields"`
	MissingFields   map[string][]string `yaml:"missing_fields,omitempty"`
	MissingImages   []string            `yaml:"records_without_images,omitempty"`
	UnmatchedImages []string            `yaml:"images_without_records,omitempty"`
}

// ValidateFields checks that every record fills the required fields and has
// exactly one original image named after its identifier.
type ValidateFields struct{}

// Name implements Step.
func (ValidateFields) Name() string { return pipeline.ValidateFields }

// Run implements Step.
func (ValidateFields) Run(ctx context.Context, in Input) (Report, error) {
	var report Report
	records, err := ReadRecords(filepath.Join(in.InputDir, filepath.Base(pipeline.RecordsCSV)))
	if err != nil {
		return report, err
	}
	required := in.Config.RequiredFields()
	idColumn := NormalizeHeader(in.Config.String("source.identifier_column"))
	if idColumn == "" {
		idColumn = "identifier"
	}

	summary := ValidationSummary{
		Records:        len(records.Rows),
		RequiredFields: required,
		MissingFields:  map[string][]string{},
	}
	for _, field := range required {
		field = NormalizeHeader(field)
		for i, row := range records.Rows {
			if row[field] == "" {
				label := row[idColumn]
				if label == "" {
					label = fmt.Sprintf("row %d", i+2)
				}
				summary.MissingFields[field] = append(summary.MissingFields[field], label)
			}
		}
	}

	images, err := originals(in.Batch.RootPath)
	if err != nil {
		return report, err
	}
	summary.Images = len(images)
	matched := map[string]bool{}
	for _, row := range records.Rows {
		id := strings.ToLower(row[idColumn])
		if id == "" {
			continue
		}
		if _, ok := images[id]; ok {
			matched[id] = true
			continue
		}
		summary.MissingImages = append(summary.MissingImages, row[idColumn])
	}
	for id, name := range images {
		if !matched[id] {
			summary.UnmatchedImages = append(summary.UnmatchedImages, name)
		}
	}
	sort.Strings(summary.UnmatchedImages)
	if len(summary.MissingFields) == 0 {
		summary.MissingFields = nil
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return report, fmt.Errorf("encode validation summary: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(in.OutputDir, "validation.yaml"), data, 0o644); err != nil {
		return report, fmt.Errorf("write validation summary: %w", err)
	}

	report.Processed = summary.Records
	report.Detail("images", summary.Images)
	for _, name := range summary.UnmatchedImages {
		report.Warn("image %s has no metadata record", name)
	}

	var problems []string
	fields := make([]string, 0, len(summary.MissingFields))
	for field := range summary.MissingFields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		problems = append(problems, fmt.Sprintf("%s missing for %s", field, listPreview(summary.MissingFields[field])))
	}
	if len(summary.MissingImages) > 0 {
		problems = append(problems, fmt.Sprintf("no original image for %s", listPreview(summary.MissingImages)))
	}
	if len(problems) > 0 {
		return report, fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}
	return report, nil
}

// originals maps lowercase file stems in originals/ to file names.
func originals(root string) (map[string]string, error) {
	dir := filepath.Join(root, pipeline.DirOriginals)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out[strings.ToLower(stem(entry.Name()))] = entry.Name()
	}
	return out, nil
}

func listPreview(items []string) string {
	if len(items) <= maxListedProblems {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:maxListedProblems], ", "), len(items)-maxListedProblems)
}
