package gtfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Downloader fetches the static GTFS zip with conditional requests.
type Downloader struct {
	client *http.Client
	url    string
	dir    string // Directory to store downloaded files
	logger *slog.Logger
}

// NewDownloader creates a Downloader for the given GTFS URL.
func NewDownloader(url, dir string, logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: 5 * time.Minute},
		url:    url,
		dir:    dir,
		logger: logger,
	}
}

// Download is a fetched GTFS zip on disk. The caller removes Path.
type Download struct {
	Path         string
	LastModified string
	ETag         string
}

// Fetch downloads the zip unless the server reports it unchanged since
// lastModified/etag, in which case it returns (nil, nil).
func (d *Downloader) Fetch(ctx context.Context, lastModified, etag string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	d.logger.Info("downloading GTFS feed", "url", d.url)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		d.logger.Info("GTFS feed not modified")
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(d.dir, "gtfs-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("write file: %w", err)
	}

	d.logger.Info("GTFS feed downloaded",
		"path", filepath.Base(tmpFile.Name()),
		"size_kb", written/1024,
	)
	return &Download{
		Path:         tmpFile.Name(),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}, nil
}
