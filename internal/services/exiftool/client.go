package exiftool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
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

// Client runs exiftool.
type Client struct {
	binary string
	exec   services.Executor
}

// New constructs an ExifTool client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("exiftool binary required")
	}
	client := &Client{binary: binary, exec: services.CommandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the configured executable.
func (c *Client) Binary() string { return c.binary }

// WriteTags sets every tag in place on file. Tags with empty values are
// skipped rather than cleared.
func (c *Client) WriteTags(ctx context.Context, file string, tags map[string]string) error {
	if strings.TrimSpace(file) == "" {
		return errors.New("exiftool: file required")
	}
	args := TagArgs(tags)
	if len(args) == 0 {
		return nil
	}
	args = append([]string{"-overwrite_original", "-charset", "UTF8", "-q", "-m"}, args...)
	args = append(args, file)
	if err := c.exec.Run(ctx, c.binary, args, nil); err != nil {
		return fmt.Errorf("exiftool %s: %w", filepath.Base(file), err)
	}
	return nil
}

// TagArgs renders tags as sorted "-Tag=value" arguments.
func TagArgs(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for tag, value := range tags {
		if strings.TrimSpace(tag) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, tag)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, tag := range keys {
		value := strings.ReplaceAll(strings.TrimSpace(tags[tag]), "\n", " ")
		args = append(args, fmt.Sprintf("-%s=%s", strings.TrimSpace(tag), value))
	}
	return args
}
