package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxExportBytes = 32 << 20

// HTTPDoer describes the HTTP client used to fetch exports.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client (primarily for tests).
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// Client fetches CSV exports.
type Client struct {
	client    HTTPDoer
	userAgent string
}

// New constructs a client whose requests time out after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: "batchflow",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportURL rewrites a Google Sheets link to its CSV export URL, keeping the
// selected tab (gid). Other URLs are returned unchanged.
func ExportURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("sheet url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse sheet url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("sheet url must be http or https, got %q", u.Scheme)
	}
	if u.Host != "docs.google.com" || !strings.HasPrefix(u.Path, "/spreadsheets/d/") {
		return u.String(), nil
	}

	parts := strings.Split(strings.TrimPrefix(u.Path, "/spreadsheets/d/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("sheet url %q has no document id", raw)
	}
	gid := u.Query().Get("gid")
	if gid == "" && strings.HasPrefix(u.Fragment, "gid=") {
		gid = strings.TrimPrefix(u.Fragment, "gid=")
	}
	export := url.URL{
		Scheme: "https",
		Host:   u.Host,
		Path:   "/spreadsheets/d/" + parts[0] + "/export",
	}
	query := url.Values{"format": []string{"csv"}}
	if gid != "" {
		query.Set("gid", gid)
	}
	export.RawQuery = query.Encode()
	return export.String(), nil
}

// FetchCSV downloads the CSV export of sheetURL.
func (c *Client) FetchCSV(ctx context.Context, sheetURL string) ([]byte, error) {
	target, err := ExportURL(sheetURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build sheet request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("sheet export returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return nil, errors.New("sheet export returned HTML; check that the sheet is shared by link")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read sheet export: %w", err)
	}
	if len(data) > maxExportBytes {
		return nil, fmt.Errorf("sheet export exceeds %d bytes", maxExportBytes)
	}
	return data, nil
}
