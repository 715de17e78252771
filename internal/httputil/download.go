// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrChecksumMismatch is returned when downloaded bytes do not hash to the
// expected SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// DownloadOptions tunes a single Download call.
type DownloadOptions struct {
	UserAgent string
	Accept    string

	// Token, when set, is sent as a bearer token.
	Token string

	// SHA256, when set, is the expected lowercase hex digest. The file is
	// only moved into place when the digest matches.
	SHA256 string
}

// Downloaded describes a completed download.
type Downloaded struct {
	Bytes  int64
	SHA256 string
}

// Download fetches url into dest through a temporary file in the same
// directory, renaming it into place on success. The temporary file is
// removed on any failure, so dest is either absent, left as it was, or
// complete.
func Download(ctx context.Context, client *http.Client, url, dest string, opts DownloadOptions) (Downloaded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Downloaded{}, fmt.Errorf("creating request: %w", err)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	resp, err := DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return Downloaded{}, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Downloaded{}, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Downloaded{}, fmt.Errorf("creating directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return Downloaded{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(tmpFile, h), resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return Downloaded{}, fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return Downloaded{}, fmt.Errorf("closing temp file: %w", closeErr)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if opts.SHA256 != "" && !strings.EqualFold(opts.SHA256, sum) {
		os.Remove(tmpPath)
		return Downloaded{}, fmt.Errorf("%s: %w (want %s, got %s)", filepath.Base(dest), ErrChecksumMismatch, opts.SHA256, sum)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return Downloaded{}, fmt.Errorf("renaming temp file: %w", err)
	}
	return Downloaded{Bytes: n, SHA256: sum}, nil
}

// FileSHA256 returns the lowercase hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
