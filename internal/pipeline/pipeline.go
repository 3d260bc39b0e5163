// Package pipeline holds the fixed, ordered definition of the batch
// processing steps: their names, the batch-relative directories each one
// reads and writes, and the default parameters they expect.
//
// Adding a step is an edit to the table below plus a matching implementation
// in package steps; no control flow elsewhere branches on step names.
package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Step names, in pipeline order.
const (
	FetchSource     = "fetch-source"
	NormalizeCSV    = "normalize-csv"
	ValidateFields  = "validate-fields"
	ConvertFormat   = "convert-format"
	EmbedMetadata   = "embed-metadata"
	ConvertTIFFJPEG = "convert-tiff-jpeg"
	Resize          = "resize"
	Watermark       = "watermark"
)

// Batch-relative directories and files.
const (
	DirOriginals   = "originals"
	DirSheet       = "sheet"
	DirMetadata    = "metadata"
	DirTIFF        = "tiff"
	DirJPEG        = "jpeg"
	DirResized     = "resized"
	DirWatermarked = "watermarked"
	DirReports     = "reports"

	SourceCSV  = "sheet/source.csv"
	RecordsCSV = "metadata/records.csv"
)

// Tool identifies the external collaborator a step shells out to.
type Tool string

const (
	ToolNone     Tool = ""
	ToolFFmpeg   Tool = "ffmpeg"
	ToolExifTool Tool = "exiftool"
)

// Definition describes one step of the pipeline.
type Definition struct {
	Name        string
	Description string
	// InputDir is relative to the batch root; empty means the root itself.
	InputDir string
	// InputPattern must match at least one file in InputDir when set.
	InputPattern string
	// Requires lists extra batch-relative files that must exist before a run.
	Requires  []string
	OutputDir string
	// Artifacts is the glob, relative to OutputDir, of files the step produces.
	Artifacts string
	// CountsRecords marks steps whose artifact count should match the number
	// of metadata records.
	CountsRecords bool
	Tool          Tool
}

// Label returns the human readable step title.
func (d Definition) Label() string {
	return cases.Title(language.Und).String(strings.ReplaceAll(d.Name, "-", " "))
}

var definitions = []Definition{
	{
		Name:        FetchSource,
		Description: "Download the source spreadsheet as CSV",
		OutputDir:   DirSheet,
		Artifacts:   "source.csv",
	},
	{
		Name:         NormalizeCSV,
		Description:  "Normalize spreadsheet headers and rows into metadata records",
		InputDir:     DirSheet,
		InputPattern: "source.csv",
		OutputDir:    DirMetadata,
		Artifacts:    "records.csv",
	},
	{
		Name:         ValidateFields,
		Description:  "Check required fields and match records to original images",
		InputDir:     DirMetadata,
		InputPattern: "records.csv",
		Requires:     []string{DirOriginals},
		OutputDir:    DirMetadata,
		Artifacts:    "validation.yaml",
	},
	{
		Name:          ConvertFormat,
		Description:   "Convert original images to TIFF masters",
		InputDir:      DirOriginals,
		InputPattern:  "*",
		OutputDir:     DirTIFF,
		Artifacts:     "*.tif",
		CountsRecords: true,
		Tool:          ToolFFmpeg,
	},
	{
		Name:          EmbedMetadata,
		Description:   "Embed record metadata into TIFF masters",
		InputDir:      DirTIFF,
		InputPattern:  "*.tif",
		Requires:      []string{RecordsCSV},
		OutputDir:     DirTIFF,
		Artifacts:     "*.tif",
		CountsRecords: true,
		Tool:          ToolExifTool,
	},
	{
		Name:          ConvertTIFFJPEG,
		Description:   "Derive JPEG access copies from TIFF masters",
		InputDir:      DirTIFF,
		InputPattern:  "*.tif",
		OutputDir:     DirJPEG,
		Artifacts:     "*.jpg",
		CountsRecords: true,
		Tool:          ToolFFmpeg,
	},
	{
		Name:          Resize,
		Description:   "Scale access copies to the target pixel dimension",
		InputDir:      DirJPEG,
		InputPattern:  "*.jpg",
		OutputDir:     DirResized,
		Artifacts:     "*.jpg",
		CountsRecords: true,
		Tool:          ToolFFmpeg,
	},
	{
		Name:          Watermark,
		Description:   "Stamp the watermark onto resized copies",
		InputDir:      DirResized,
		InputPattern:  "*.jpg",
		OutputDir:     DirWatermarked,
		Artifacts:     "*.jpg",
		CountsRecords: true,
		Tool:          ToolFFmpeg,
	},
}

// Definitions returns the ordered step table.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	for i, def := range definitions {
		def.Requires = append([]string(nil), def.Requires...)
		out[i] = def
	}
	return out
}

// Names returns the ordered step names.
func Names() []string {
	names := make([]string, len(definitions))
	for i, def := range definitions {
		names[i] = def.Name
	}
	return names
}

// Lookup returns the definition for a step name.
func Lookup(name string) (Definition, bool) {
	name = strings.TrimSpace(name)
	for _, def := range Definitions() {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Index returns the 1-based position of a step, or 0 when unknown.
func Index(name string) int {
	name = strings.TrimSpace(name)
	for i, def := range definitions {
		if def.Name == name {
			return i + 1
		}
	}
	return 0
}

// Resolve accepts a step name, its display label (any case) or its 1-based
// position and returns the name.
func Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if def, ok := Lookup(ref); ok {
		return def.Name, true
	}
	for _, def := range definitions {
		if strings.EqualFold(ref, def.Label()) {
			return def.Name, true
		}
	}
	n := 0
	for _, r := range ref {
		if r < '0' || r > '9' {
			return "", false
		}
		n = n*10 + int(r-'0')
		if n > len(definitions) {
			return "", false
		}
	}
	if n < 1 {
		return "", false
	}
	return definitions[n-1].Name, true
}
