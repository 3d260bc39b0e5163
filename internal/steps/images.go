package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"batchflow/internal/pipeline"
	"batchflow/internal/services/exiftool"
	"batchflow/internal/services/ffmpeg"
)

// forEach runs fn over in.Inputs, reporting progress and stopping at the
// first error or on cancellation.
func forEach(ctx context.Context, in Input, fn func(ctx context.Context, src string) error) (Report, error) {
	var report Report
	total := len(in.Inputs)
	for i, src := range in.Inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		in.report(i, total, "processing %s", filepath.Base(src))
		if err := fn(ctx, src); err != nil {
			return report, err
		}
		report.Processed++
	}
	in.report(total, total, "processed %d files", total)
	return report, nil
}

func outputPath(in Input, src, ext string) string {
	return filepath.Join(in.OutputDir, stem(src)+ext)
}

// ConvertFormat converts every original image to a TIFF master.
type ConvertFormat struct {
	FFmpeg *ffmpeg.Client
}

// Name implements Step.
func (ConvertFormat) Name() string { return pipeline.ConvertFormat }

// Run implements Step.
func (s ConvertFormat) Run(ctx context.Context, in Input) (Report, error) {
	if s.FFmpeg == nil {
		return Report{}, errors.New("ffmpeg client unavailable")
	}
	return forEach(ctx, in, func(ctx context.Context, src string) error {
		return s.FFmpeg.ConvertToTIFF(ctx, src, outputPath(in, src, ".tif"))
	})
}

// EmbedMetadata writes each record's fields into the matching TIFF master
// using the embed.tag_map column-to-tag mapping.
type EmbedMetadata struct {
	ExifTool *exiftool.Client
}

// Name implements Step.
func (EmbedMetadata) Name() string { return pipeline.EmbedMetadata }

// Run implements Step.
func (s EmbedMetadata) Run(ctx context.Context, in Input) (Report, error) {
	if s.ExifTool == nil {
		return Report{}, errors.New("exiftool client unavailable")
	}
	records, err := ReadRecords(filepath.Join(in.Batch.RootPath, pipeline.RecordsCSV))
	if err != nil {
		return Report{}, err
	}
	tagMap := in.Config.StringMap("embed.tag_map")
	if len(tagMap) == 0 {
		return Report{}, errors.New("embed.tag_map is empty")
	}
	idColumn := NormalizeHeader(in.Config.String("source.identifier_column"))
	if idColumn == "" {
		idColumn = "identifier"
	}
	byID := make(map[string]map[string]string, len(records.Rows))
	for _, row := range records.Rows {
		byID[strings.ToLower(row[idColumn])] = row
	}

	var unmatched []string
	report, err := forEach(ctx, in, func(ctx context.Context, src string) error {
		row, ok := byID[strings.ToLower(stem(src))]
		if !ok {
			unmatched = append(unmatched, filepath.Base(src))
			return nil
		}
		tags := make(map[string]string, len(tagMap))
		for column, tag := range tagMap {
			if value := row[NormalizeHeader(column)]; value != "" {
				tags[tag] = value
			}
		}
		return s.ExifTool.WriteTags(ctx, src, tags)
	})
	for _, name := range unmatched {
		report.Warn("no metadata record for %s", name)
	}
	report.Skipped = len(unmatched)
	report.Processed -= len(unmatched)
	return report, err
}

// ConvertTIFFJPEG derives JPEG access copies from the TIFF masters.
type ConvertTIFFJPEG struct {
	FFmpeg *ffmpeg.Client
}

// Name implements Step.
func (ConvertTIFFJPEG) Name() string { return pipeline.ConvertTIFFJPEG }

// Run implements Step.
func (s ConvertTIFFJPEG) Run(ctx context.Context, in Input) (Report, error) {
	if s.FFmpeg == nil {
		return Report{}, errors.New("ffmpeg client unavailable")
	}
	quality := in.Config.Int("convert.jpeg_quality", 2)
	return forEach(ctx, in, func(ctx context.Context, src string) error {
		return s.FFmpeg.ConvertToJPEG(ctx, src, outputPath(in, src, ".jpg"), quality)
	})
}

// Resize scales the access copies down to resize.max_dimension.
type Resize struct {
	FFmpeg *ffmpeg.Client
}

// Name implements Step.
func (Resize) Name() string { return pipeline.Resize }

// Run implements Step.
func (s Resize) Run(ctx context.Context, in Input) (Report, error) {
	if s.FFmpeg == nil {
		return Report{}, errors.New("ffmpeg client unavailable")
	}
	maxDim := in.Config.Int("resize.max_dimension", 0)
	if maxDim <= 0 {
		return Report{}, fmt.Errorf("resize.max_dimension must be positive, got %d", maxDim)
	}
	quality := in.Config.Int("resize.quality", 3)
	report, err := forEach(ctx, in, func(ctx context.Context, src string) error {
		return s.FFmpeg.Resize(ctx, src, outputPath(in, src, ".jpg"), maxDim, quality)
	})
	report.Detail("max_dimension", maxDim)
	return report, err
}

// Watermark stamps watermark.text onto the resized copies.
type Watermark struct {
	FFmpeg *ffmpeg.Client
}

// Name implements Step.
func (Watermark) Name() string { return pipeline.Watermark }

// Run implements Step.
func (s Watermark) Run(ctx context.Context, in Input) (Report, error) {
	if s.FFmpeg == nil {
		return Report{}, errors.New("ffmpeg client unavailable")
	}
	opts := ffmpeg.WatermarkOptions{
		Text:     in.Config.String("watermark.text"),
		Opacity:  in.Config.Float("watermark.opacity", 0.35),
		FontSize: in.Config.Int("watermark.font_size", 36),
		Margin:   in.Config.Int("watermark.margin", 24),
	}
	if opts.Text == "" {
		return Report{}, errors.New("watermark.text is not set")
	}
	return forEach(ctx, in, func(ctx context.Context, src string) error {
		return s.FFmpeg.Watermark(ctx, src, outputPath(in, src, ".jpg"), opts)
	})
}
