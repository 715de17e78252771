// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/waycore/rag-knowledge/internal/httputil"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// BatchResult holds the outcome of an acquire run.
type BatchResult struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Total returns the number of catalog items processed.
func (r BatchResult) Total() int {
	return r.Downloaded + r.Skipped + r.Failed
}

// HasFailures reports whether any download failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// AcquireOptions controls Acquire.
type AcquireOptions struct {
	types.HTTPConfig

	// Delay is the pause between consecutive downloads.
	Delay time.Duration
}

// Acquire downloads every catalog item with a URL whose file is missing
// under root. Items already on disk are skipped, items without a URL are
// reported and skipped. It continues past individual failures and prints a
// summary line at the end.
func Acquire(ctx context.Context, client *http.Client, c *Catalog, root string, opts AcquireOptions, w io.Writer) BatchResult {
	var (
		result BatchResult
		first  = true
	)
	for _, s := range c.Sources {
		dest := filepath.Join(root, filepath.FromSlash(s.File))

		if _, err := os.Stat(dest); err == nil {
			fmt.Fprintf(w, "skipped: %s (already exists)\n", s.File)
			result.Skipped++
			continue
		}
		if s.URL == "" {
			fmt.Fprintf(w, "skipped: %s (no url in %s)\n", s.File, FileName)
			result.Skipped++
			continue
		}

		if !first && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", s.File, err)
			result.Failed++
			continue
		}

		if s.Title != "" {
			fmt.Fprintf(w, "downloading: %s (%s)\n", s.File, s.Title)
		} else {
			fmt.Fprintf(w, "downloading: %s\n", s.File)
		}
		got, err := httputil.Download(ctx, client, s.URL, dest, httputil.DownloadOptions{
			UserAgent: opts.UserAgent,
			SHA256:    s.SHA256,
		})
		if err != nil {
			if errors.Is(err, httputil.ErrChecksumMismatch) {
				fmt.Fprintf(w, "  warning: %s does not match the catalog checksum\n", s.File)
			}
			fmt.Fprintf(w, "failed:  %s (%v)\n", s.File, err)
			result.Failed++
			continue
		}
		fmt.Fprintf(w, "  %d bytes, sha256 %s\n", got.Bytes, got.SHA256)
		result.Downloaded++
	}
	fmt.Fprintf(w, "\nAcquire summary: %d downloaded, %d skipped, %d failed (total: %d)\n",
		result.Downloaded, result.Skipped, result.Failed, result.Total())
	return result
}
