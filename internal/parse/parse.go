// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package parse turns source documents (PDF, JSON, CSV) into records ready
// to become knowledge entries. PDFs are chunked by page text; JSON and CSV
// items are flattened into markdown-ish field blocks. Plant databases get a
// dedicated parser that derives the safety level from edibility ratings.
package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/waycore/rag-knowledge/internal/pdftext"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// Record is one parsed unit of source content. Page is 1-based for PDFs and
// zero for structured data.
type Record struct {
	Title       string
	Content     string
	Page        int
	Subcategory string
	SafetyLevel types.SafetyLevel
	SafetyNotes string
	Tags        []string
	Metadata    map[string]any
}

// Supported source file extensions, in the order the build visits them.
var Extensions = []string{".pdf", ".json", ".csv"}

// Parser dispatches on file extension and category.
type Parser struct {
	PDF   pdftext.Extractor
	Chunk types.ChunkConfig
}

// File parses the source at path, which lives under the given category
// directory.
func (p *Parser) File(ctx context.Context, path, category string) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(path))
	plants := category == types.CategoryPlants

	var (
		recs []Record
		err  error
	)
	switch {
	case ext == ".pdf":
		if p.PDF == nil {
			return nil, fmt.Errorf("no PDF extractor configured for %s", path)
		}
		recs, err = parsePDF(ctx, p.PDF, path, category, p.Chunk)
	case ext == ".json" && plants:
		recs, err = parsePlantJSON(path)
	case ext == ".json":
		recs, err = parseJSON(path, category)
	case ext == ".csv" && plants:
		recs, err = parsePlantCSV(path)
	case ext == ".csv":
		recs, err = parseCSV(path, category)
	default:
		return nil, fmt.Errorf("unsupported source file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return recs, nil
}

// Supported reports whether path has an extension File can parse.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// fieldLabel renders a snake_case key as a bold title-cased label.
func fieldLabel(key string) string {
	caser := cases.Title(language.English)
	return "**" + caser.String(strings.ReplaceAll(key, "_", " ")) + "**"
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
