package steps

import (
	"fmt"
	"time"

	"batchflow/internal/config"
	"batchflow/internal/services/exiftool"
	"batchflow/internal/services/ffmpeg"
	"batchflow/internal/services/sheets"
)

// Clients bundles the collaborators the concrete steps call.
type Clients struct {
	FFmpeg   *ffmpeg.Client
	ExifTool *exiftool.Client
	Sheets   *sheets.Client
}

// NewClients builds collaborator clients from the application config.
func NewClients(cfg *config.Config) (Clients, error) {
	ff, err := ffmpeg.New(cfg.Tools.FFmpeg)
	if err != nil {
		return Clients{}, fmt.Errorf("ffmpeg client: %w", err)
	}
	exif, err := exiftool.New(cfg.Tools.ExifTool)
	if err != nil {
		return Clients{}, fmt.Errorf("exiftool client: %w", err)
	}
	timeout := cfg.HTTPTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Clients{FFmpeg: ff, ExifTool: exif, Sheets: sheets.New(timeout)}, nil
}

// Default returns the full pipeline, in order, wired to clients.
func Default(clients Clients) *Set {
	return NewSet(
		FetchSource{Client: clients.Sheets},
		NormalizeCSV{},
		ValidateFields{},
		ConvertFormat{FFmpeg: clients.FFmpeg},
		EmbedMetadata{ExifTool: clients.ExifTool},
		ConvertTIFFJPEG{FFmpeg: clients.FFmpeg},
		Resize{FFmpeg: clients.FFmpeg},
		Watermark{FFmpeg: clients.FFmpeg},
	)
}
