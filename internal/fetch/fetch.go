// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads a released index: manifest.json first, then every
// artifact it lists, each checked against its sha256 before it replaces
// the local copy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/waycore/rag-knowledge/internal/httputil"
	"github.com/waycore/rag-knowledge/internal/manifest"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// maxManifestBytes bounds the manifest response body.
const maxManifestBytes = 1 << 20

// Result reports what a fetch did.
type Result struct {
	Manifest   types.Manifest
	Downloaded []string
	Skipped    []string
}

// Run fetches the release at cfg.BaseURL into cfg.OutputDir. Files already
// present with the manifest's hash are left alone. manifest.json is written
// last, so its presence marks a complete release.
func Run(ctx context.Context, client *http.Client, cfg types.FetchConfig, w io.Writer) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, errors.New("fetch needs a base URL")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	raw, err := getManifest(ctx, client, cfg)
	if err != nil {
		return Result{}, err
	}
	m, err := manifest.Decode(raw)
	if err != nil {
		return Result{}, err
	}
	if len(m.Files) == 0 {
		return Result{}, errors.New("manifest lists no files")
	}
	fmt.Fprintf(w, "release %s: %d entries, model %s\n", m.Version, m.TotalEntries, m.EmbeddingModel)

	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		if err := checkName(name); err != nil {
			return Result{}, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	res := Result{Manifest: m}
	for _, name := range names {
		info := m.Files[name]
		dest := filepath.Join(cfg.OutputDir, name)

		if info.SHA256 != "" {
			if sum, err := httputil.FileSHA256(dest); err == nil && strings.EqualFold(sum, info.SHA256) {
				fmt.Fprintf(w, "  skipped:     %s (up to date)\n", name)
				res.Skipped = append(res.Skipped, name)
				continue
			}
		}

		u, err := url.JoinPath(cfg.BaseURL, name)
		if err != nil {
			return res, fmt.Errorf("building URL for %s: %w", name, err)
		}
		fmt.Fprintf(w, "  downloading: %s (%.1f MB)\n", name, float64(info.SizeBytes)/1024/1024)
		got, err := httputil.Download(ctx, client, u, dest, httputil.DownloadOptions{
			UserAgent: cfg.UserAgent,
			Token:     cfg.Token,
			SHA256:    info.SHA256,
		})
		if err != nil {
			return res, fmt.Errorf("fetching %s: %w", name, err)
		}
		if info.SizeBytes > 0 && got.Bytes != info.SizeBytes {
			fmt.Fprintf(w, "  warning: %s is %d bytes, manifest says %d\n", name, got.Bytes, info.SizeBytes)
		}
		res.Downloaded = append(res.Downloaded, name)
	}

	if err := os.WriteFile(filepath.Join(cfg.OutputDir, types.ManifestFile), raw, 0o644); err != nil {
		return res, fmt.Errorf("writing manifest: %w", err)
	}
	fmt.Fprintf(w, "\nFetch summary: %d downloaded, %d up to date\n", len(res.Downloaded), len(res.Skipped))
	return res, nil
}

func getManifest(ctx context.Context, client *http.Client, cfg types.FetchConfig) ([]byte, error) {
	u, err := url.JoinPath(cfg.BaseURL, types.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("building manifest URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching manifest: HTTP %d from %s", resp.StatusCode, u)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return data, nil
}

// checkName rejects manifest file names that would land outside the output
// directory.
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("manifest lists invalid file name %q", name)
	}
	if name == types.ManifestFile {
		return fmt.Errorf("manifest lists itself")
	}
	return nil
}
