// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdftext extracts per-page text and document metadata from PDFs
// using the poppler command-line tools, either installed on the host or
// run inside a container image.
package pdftext

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/waycore/rag-knowledge/internal/container"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// DefaultImage is the container image used by the container backend.
const DefaultImage = "waycore/poppler:latest"

// Metadata describes a PDF document.
type Metadata struct {
	Title     string
	Author    string
	Subject   string
	PageCount int
	FileSize  int64
}

// Extractor pulls text out of PDF files. Different backends (host poppler,
// containerized poppler) implement this interface.
type Extractor interface {
	// Pages returns the text of each page in order. Page i of the result is
	// page i+1 of the document.
	Pages(ctx context.Context, path string) ([]string, error)

	// Metadata returns the document information dictionary and size.
	Metadata(ctx context.Context, path string) (Metadata, error)
}

// runner abstracts command execution for testing.
type runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stdout io.Writer) error
}

type osRunner struct{}

func (osRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// HostExtractor runs pdftotext and pdfinfo from PATH.
type HostExtractor struct {
	run runner
}

// NewHostExtractor verifies that pdftotext and pdfinfo are installed.
func NewHostExtractor() (*HostExtractor, error) {
	return newHostExtractor(osRunner{})
}

func newHostExtractor(r runner) (*HostExtractor, error) {
	for _, bin := range []string{"pdftotext", "pdfinfo"} {
		if _, err := r.LookPath(bin); err != nil {
			return nil, fmt.Errorf("%s not found on PATH (install poppler-utils or use the container backend): %w", bin, err)
		}
	}
	return &HostExtractor{run: r}, nil
}

// Pages runs pdftotext and splits its output on form feeds.
func (h *HostExtractor) Pages(ctx context.Context, path string) ([]string, error) {
	var out bytes.Buffer
	if err := h.run.Run(ctx, "pdftotext", []string{"-enc", "UTF-8", path, "-"}, &out); err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", path, err)
	}
	return splitPages(out.String()), nil
}

// Metadata runs pdfinfo and parses its key/value output.
func (h *HostExtractor) Metadata(ctx context.Context, path string) (Metadata, error) {
	var out bytes.Buffer
	if err := h.run.Run(ctx, "pdfinfo", []string{"-enc", "UTF-8", path}, &out); err != nil {
		return Metadata{}, fmt.Errorf("reading metadata of %s: %w", path, err)
	}
	return withFileSize(parseInfo(out.String()), path)
}

// ContainerExtractor pipes PDFs through poppler tools inside a container.
type ContainerExtractor struct {
	runtime container.Runtime
	image   string
}

// NewContainerExtractor checks that image is available in rt.
func NewContainerExtractor(rt container.Runtime, image string) (*ContainerExtractor, error) {
	if image == "" {
		image = DefaultImage
	}
	if err := rt.ImageExists(image); err != nil {
		return nil, fmt.Errorf("poppler image not available in %s: %w", rt.Name(), err)
	}
	return &ContainerExtractor{runtime: rt, image: image}, nil
}

// Pages pipes the PDF through pdftotext in the container.
func (c *ContainerExtractor) Pages(ctx context.Context, path string) ([]string, error) {
	out, err := c.pipe(ctx, path, []string{"pdftotext", "-enc", "UTF-8", "-", "-"})
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", path, err)
	}
	return splitPages(out), nil
}

// Metadata pipes the PDF through pdfinfo in the container.
func (c *ContainerExtractor) Metadata(ctx context.Context, path string) (Metadata, error) {
	out, err := c.pipe(ctx, path, []string{"pdfinfo", "-enc", "UTF-8", "-"})
	if err != nil {
		return Metadata{}, fmt.Errorf("reading metadata of %s: %w", path, err)
	}
	return withFileSize(parseInfo(out), path)
}

func (c *ContainerExtractor) pipe(ctx context.Context, path string, args []string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := c.runtime.Run(ctx, c.image, args, f, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// New returns the extractor selected by cfg.
func New(cfg types.PDFConfig) (Extractor, error) {
	switch cfg.Backend {
	case types.PDFHost, "":
		x, err := NewHostExtractor()
		if err != nil {
			return nil, err
		}
		return x, nil
	case types.PDFContainer:
		rt, err := container.DetectRuntime(cfg.Runtime)
		if err != nil {
			return nil, err
		}
		x, err := NewContainerExtractor(rt, cfg.Image)
		if err != nil {
			return nil, err
		}
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported PDF backend %q: use host or container", cfg.Backend)
	}
}

// splitPages splits pdftotext output on form feeds. pdftotext terminates
// every page, including the last, with a form feed.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}

// parseInfo reads pdfinfo's "Key:   value" lines.
func parseInfo(out string) Metadata {
	var m Metadata
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Title":
			m.Title = value
		case "Author":
			m.Author = value
		case "Subject":
			m.Subject = value
		case "Pages":
			m.PageCount, _ = strconv.Atoi(value)
		}
	}
	return m
}

func withFileSize(m Metadata, path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return m, fmt.Errorf("stat %s: %w", path, err)
	}
	m.FileSize = info.Size()
	return m, nil
}
