package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"batchflow/internal/services"
)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLineHandler receives every line ffmpeg prints.
func WithLineHandler(fn func(string)) Option {
	return func(c *Client) {
		c.onLine = fn
	}
}

// Client runs ffmpeg.
type Client struct {
	binary string
	exec   services.Executor
	onLine func(string)
}

// WatermarkOptions controls the drawtext overlay.
type WatermarkOptions struct {
	Text     string
	Opacity  float64
	FontSize int
	Margin   int
}

// New constructs an ffmpeg client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{binary: binary, exec: services.CommandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the configured executable.
func (c *Client) Binary() string { return c.binary }

// ConvertToTIFF writes an LZW-compressed TIFF of src to dst.
func (c *Client) ConvertToTIFF(ctx context.Context, src, dst string) error {
	return c.run(ctx, src, dst, "-compression_algo", "lzw", "-pix_fmt", "rgb24")
}

// ConvertToJPEG writes a JPEG of src to dst. quality is ffmpeg's q:v scale
// (2 best, 31 worst).
func (c *Client) ConvertToJPEG(ctx context.Context, src, dst string, quality int) error {
	return c.run(ctx, src, dst, "-q:v", strconv.Itoa(clampQuality(quality)))
}

// Resize scales src so neither side exceeds maxDimension, never upscaling.
func (c *Client) Resize(ctx context.Context, src, dst string, maxDimension, quality int) error {
	if maxDimension <= 0 {
		return fmt.Errorf("resize: max dimension must be positive")
	}
	scale := fmt.Sprintf("scale='min(iw,%d)':'min(ih,%d)':force_original_aspect_ratio=decrease", maxDimension, maxDimension)
	return c.run(ctx, src, dst, "-vf", scale, "-q:v", strconv.Itoa(clampQuality(quality)))
}

// Watermark draws opts.Text in the lower right corner of src.
func (c *Client) Watermark(ctx context.Context, src, dst string, opts WatermarkOptions) error {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return fmt.Errorf("watermark: text is required")
	}
	return c.run(ctx, src, dst, "-vf", DrawText(opts), "-q:v", "2")
}

// DrawText renders the drawtext filter expression for opts.
func DrawText(opts WatermarkOptions) string {
	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.35
	}
	size := opts.FontSize
	if size <= 0 {
		size = 36
	}
	margin := opts.Margin
	if margin < 0 {
		margin = 0
	}
	return fmt.Sprintf("drawtext=text='%s':fontcolor=white@%s:fontsize=%d:x=w-tw-%d:y=h-th-%d:shadowcolor=black@%s:shadowx=1:shadowy=1",
		escapeDrawText(opts.Text),
		strconv.FormatFloat(opacity, 'f', -1, 64),
		size, margin, margin,
		strconv.FormatFloat(opacity, 'f', -1, 64),
	)
}

func (c *Client) run(ctx context.Context, src, dst string, extra ...string) error {
	if src == "" || dst == "" {
		return errors.New("ffmpeg: source and destination required")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", src}
	args = append(args, extra...)
	args = append(args, "-frames:v", "1", "-update", "1", dst)
	if err := c.exec.Run(ctx, c.binary, args, c.onLine); err != nil {
		return fmt.Errorf("ffmpeg %s: %w", filepath.Base(src), err)
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("ffmpeg produced no output for %s", filepath.Base(src))
	}
	return nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 2
	case q > 31:
		return 31
	default:
		return q
	}
}

func escapeDrawText(text string) string {
	replacer := strings.NewReplacer(`\`, `\\\\`, `'`, `'\\\''`, `:`, `\\:`, `%`, `\\%`)
	return replacer.Replace(strings.TrimSpace(text))
}
