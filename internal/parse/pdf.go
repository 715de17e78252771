// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"context"
	"sort"
	"strings"

	"github.com/waycore/rag-knowledge/internal/pdftext"
	"github.com/waycore/rag-knowledge/internal/textutil"
	"github.com/waycore/rag-knowledge/pkg/types"
)

const titleMaxLen = 100

func parsePDF(ctx context.Context, ext pdftext.Extractor, path, category string, cfg types.ChunkConfig) ([]Record, error) {
	pages, err := ext.Pages(ctx, path)
	if err != nil {
		return nil, err
	}
	text, starts := joinPages(pages)

	level := types.CategorySafety(category)
	notes := types.CategoryNotes(category)
	tags := []string{category, stem(path)}

	var recs []Record
	for _, c := range textutil.Split(text, cfg) {
		recs = append(recs, Record{
			Title:       textutil.ExtractTitle(c.Text, titleMaxLen),
			Content:     c.Text,
			Page:        pageAt(starts, c.Offset),
			SafetyLevel: level,
			SafetyNotes: notes,
			Tags:        append([]string(nil), tags...),
		})
	}
	return recs, nil
}

// joinPages cleans each page and joins them with blank lines, returning the
// byte offset at which each page starts in the joined text.
func joinPages(pages []string) (string, []int) {
	var b strings.Builder
	starts := make([]int, 0, len(pages))
	for _, p := range pages {
		p = textutil.Clean(p)
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		starts = append(starts, b.Len())
		b.WriteString(p)
	}
	return b.String(), starts
}

// pageAt returns the 1-based page whose start is the last one at or before
// offset.
func pageAt(starts []int, offset int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
	if i == 0 {
		return 1
	}
	return i
}
