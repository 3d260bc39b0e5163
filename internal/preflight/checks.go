package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"batchflow/internal/config"
	"batchflow/internal/deps"
	"batchflow/internal/pipeline"
	"batchflow/internal/services/sheets"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckParentAccess checks the directory that will hold path, walking up to
// the nearest existing ancestor when it has not been created yet.
func CheckParentAccess(name, path string) Result {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	result := CheckDirectoryAccess(name, dir)
	if result.Passed && dir != filepath.Dir(path) {
		result.Detail = fmt.Sprintf("%s (will be created under %s)", filepath.Dir(path), dir)
	}
	return result
}

// ToolRequirement maps a step's collaborator tool to a binary requirement.
// The second return value is false for steps that run no external binary.
func ToolRequirement(cfg *config.Config, tool pipeline.Tool) (deps.Requirement, bool) {
	ffmpeg, exiftool := "ffmpeg", "exiftool"
	if cfg != nil {
		ffmpeg, exiftool = cfg.Tools.FFmpeg, cfg.Tools.ExifTool
	}
	switch tool {
	case pipeline.ToolFFmpeg:
		return deps.Requirement{Name: "FFmpeg", Command: ffmpeg, Description: "Required for image conversion, resizing, and watermarking"}, true
	case pipeline.ToolExifTool:
		return deps.Requirement{Name: "ExifTool", Command: exiftool, Description: "Required for embedding metadata"}, true
	default:
		return deps.Requirement{}, false
	}
}

// CheckSystemDeps evaluates every binary used by the pipeline.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	seen := make(map[pipeline.Tool]bool)
	for _, def := range pipeline.Definitions() {
		if seen[def.Tool] {
			continue
		}
		seen[def.Tool] = true
		if req, ok := ToolRequirement(cfg, def.Tool); ok {
			requirements = append(requirements, req)
		}
	}
	return deps.CheckBinaries(requirements)
}

// CheckSheet verifies that a metadata sheet URL answers with a non-HTML body.
func CheckSheet(ctx context.Context, client sheets.HTTPDoer, rawURL string) Result {
	const name = "Metadata sheet"

	if strings.TrimSpace(rawURL) == "" {
		return Result{Name: name, Passed: true, Detail: "not configured"}
	}
	exportURL, err := sheets.ExportURL(rawURL)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, exportURL, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "not shared publicly (access denied)"}
	case resp.StatusCode >= 300:
		return Result{Name: name, Detail: fmt.Sprintf("export failed (%d)", resp.StatusCode)}
	case strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html"):
		return Result{Name: name, Detail: "returned an HTML page instead of CSV (check sharing settings)"}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}
