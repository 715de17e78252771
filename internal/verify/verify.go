// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify validates a built index before release: database health,
// the vector index and its rowid labels, manifest consistency and a set of
// sample searches.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/waycore/rag-knowledge/internal/embed"
	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/internal/manifest"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// Check is the outcome of one verification step.
type Check struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Report collects every check that ran.
type Report struct {
	Checks []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Query is a sample search and the category its top hit should come from.
type Query struct {
	Text     string `json:"text" yaml:"text"`
	Category string `json:"category" yaml:"category"`
}

// DefaultQueries cover the main categories of the corpus.
var DefaultQueries = []Query{
	{"how to start a fire without matches", types.CategorySurvival},
	{"reading a topographic map", types.CategoryNavigation},
	{"treating a bleeding wound", types.CategoryFirstAid},
	{"tying a bowline knot", types.CategoryKnots},
	{"identifying cloud types", types.CategoryWeather},
}

// Options configure a verification run.
type Options struct {
	Dir string

	// Dimensions is the expected vector length. Zero accepts whatever the
	// database metadata records, falling back to the default.
	Dimensions int

	// Embedder runs the sample searches. Nil skips the search check.
	Embedder embed.Provider
	Queries  []Query
}

// Run executes every check against the artifacts in opts.Dir and writes a
// human-readable account to w.
func Run(ctx context.Context, opts Options, w io.Writer) Report {
	dbPath := filepath.Join(opts.Dir, types.DatabaseFile)
	idxPath := filepath.Join(opts.Dir, types.VectorsFile)
	manifestPath := filepath.Join(opts.Dir, types.ManifestFile)
	if opts.Queries == nil {
		opts.Queries = DefaultQueries
	}

	fmt.Fprintln(w, "RAG knowledge index verification")
	fmt.Fprintf(w, "directory: %s\n", opts.Dir)

	var r Report
	run := func(title string, c Check) {
		fmt.Fprintf(w, "\n%s\n", title)
		fmt.Fprintf(w, "  %s %s\n", mark(c.Passed), c.Message)
		for _, d := range c.Details {
			fmt.Fprintf(w, "  %s\n", d)
		}
		r.Checks = append(r.Checks, c)
	}

	run("Checking database...", Database(ctx, dbPath))
	dim := opts.Dimensions
	if dim == 0 {
		dim = recordedDim(ctx, dbPath)
	}
	run("Checking vector index...", VectorIndex(ctx, dbPath, idxPath, dim))
	run("Checking manifest...", Manifest(ctx, manifestPath, opts.Dir))
	if opts.Embedder != nil {
		run("Running search tests...", Search(ctx, dbPath, idxPath, opts.Embedder, opts.Queries))
	} else {
		fmt.Fprintln(w, "\nwarning: no embedder configured, skipping search tests")
	}

	if r.Passed() {
		fmt.Fprintln(w, "\nAll verification checks passed.")
	} else {
		fmt.Fprintln(w, "\nSome verification checks failed.")
	}
	return r
}

func mark(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// Database checks integrity, the presence of the entries and entries_fts
// tables, and that at least one entry exists.
func Database(ctx context.Context, path string) Check {
	c := Check{Name: "database"}
	if _, err := os.Stat(path); err != nil {
		c.Message = fmt.Sprintf("database not found: %s", path)
		return c
	}
	store, err := knowledge.OpenReadOnly(path)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	defer store.Close()

	res, err := store.IntegrityCheck(ctx)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	if res != "ok" {
		c.Message = fmt.Sprintf("integrity check failed: %s", res)
		return c
	}
	for _, table := range []string{"entries", "entries_fts"} {
		ok, err := store.HasTable(ctx, table)
		if err != nil {
			c.Message = fmt.Sprintf("database error: %v", err)
			return c
		}
		if !ok {
			c.Message = fmt.Sprintf("table %q not found", table)
			return c
		}
	}
	n, err := store.Count(ctx)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	if n == 0 {
		c.Message = "no entries in database"
		return c
	}
	c.Passed = true
	c.Message = fmt.Sprintf("database OK: %d entries", n)
	return c
}

// VectorIndex checks the index loads with the expected dimension, is not
// empty, and holds exactly one vector per entry rowid.
func VectorIndex(ctx context.Context, dbPath, idxPath string, dim int) Check {
	c := Check{Name: "vector_index"}
	idx, err := hnsw.Load(idxPath, dim)
	if err != nil {
		c.Message = fmt.Sprintf("vector index error: %v", err)
		return c
	}
	if idx.Len() == 0 {
		c.Message = "vector index is empty"
		return c
	}

	store, err := knowledge.OpenReadOnly(dbPath)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	defer store.Close()
	rowIDs, err := store.RowIDs(ctx)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}

	if len(rowIDs) != idx.Len() {
		c.Message = fmt.Sprintf("vector count %d does not match entry count %d", idx.Len(), len(rowIDs))
		return c
	}
	known := make(map[uint64]bool, len(rowIDs))
	for _, id := range rowIDs {
		known[uint64(id)] = true
	}
	var orphans []string
	for _, l := range idx.Labels() {
		if !known[l] {
			orphans = append(orphans, fmt.Sprint(l))
		}
	}
	if len(orphans) > 0 {
		c.Message = fmt.Sprintf("%d vectors have no matching entry", len(orphans))
		c.Details = []string{"labels: " + strings.Join(orphans[:min(len(orphans), 10)], ", ")}
		return c
	}
	c.Passed = true
	c.Message = fmt.Sprintf("vector index OK: %d vectors, %d dimensions", idx.Len(), idx.Dim())
	return c
}

var requiredManifestFields = []string{"version", "total_entries", "categories", "files"}

// Manifest checks the manifest exists, carries the required fields, agrees
// with the database entry count and, where it lists hashes, with the files
// on disk.
func Manifest(ctx context.Context, path, dir string) Check {
	c := Check{Name: "manifest"}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Message = "manifest not found"
		} else {
			c.Message = fmt.Sprintf("manifest error: %v", err)
		}
		return c
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		c.Message = fmt.Sprintf("manifest error: %v", err)
		return c
	}
	for _, f := range requiredManifestFields {
		if _, ok := raw[f]; !ok {
			c.Message = fmt.Sprintf("missing field: %s", f)
			return c
		}
	}
	m, err := manifest.Decode(data)
	if err != nil {
		c.Message = fmt.Sprintf("manifest error: %v", err)
		return c
	}

	store, err := knowledge.OpenReadOnly(filepath.Join(dir, types.DatabaseFile))
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	defer store.Close()
	n, err := store.Count(ctx)
	if err != nil {
		c.Message = fmt.Sprintf("database error: %v", err)
		return c
	}
	if m.TotalEntries != n {
		c.Message = fmt.Sprintf("entry count mismatch: manifest=%d, db=%d", m.TotalEntries, n)
		return c
	}

	for _, name := range manifest.Artifacts {
		want, ok := m.Files[name]
		if !ok || want.SHA256 == "" {
			continue
		}
		got, err := manifest.Describe(filepath.Join(dir, name))
		if err != nil {
			c.Message = fmt.Sprintf("manifest lists %s: %v", name, err)
			return c
		}
		if got.SHA256 != want.SHA256 {
			c.Message = fmt.Sprintf("%s sha256 mismatch: manifest=%s, file=%s", name, want.SHA256, got.SHA256)
			return c
		}
	}
	c.Passed = true
	c.Message = fmt.Sprintf("manifest OK: v%s", m.Version)
	return c
}

// Search embeds each sample query, takes the nearest vector and looks its
// entry up by rowid. No results or a dangling rowid fails the check; a top
// hit from an unexpected category is only reported.
func Search(ctx context.Context, dbPath, idxPath string, p embed.Provider, queries []Query) Check {
	c := Check{Name: "search"}
	if len(queries) == 0 {
		c.Passed = true
		c.Message = "no sample queries"
		return c
	}
	idx, err := hnsw.Load(idxPath, p.Dim())
	if err != nil {
		c.Message = fmt.Sprintf("search error: %v", err)
		return c
	}
	store, err := knowledge.OpenReadOnly(dbPath)
	if err != nil {
		c.Message = fmt.Sprintf("search error: %v", err)
		return c
	}
	defer store.Close()

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	vecs, err := p.Embed(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d queries", len(vecs), len(texts))
	}
	if err != nil {
		c.Message = fmt.Sprintf("search error: %v", err)
		return c
	}

	passed := true
	mismatches := 0
	for i, q := range queries {
		res, err := idx.Search(vecs[i], 1)
		if err != nil || len(res) == 0 {
			c.Details = append(c.Details, fmt.Sprintf("FAIL %q - no results", q.Text))
			passed = false
			continue
		}
		entries, err := store.EntriesByRowID(ctx, []int64{int64(res[0].Label)})
		if err != nil {
			c.Message = fmt.Sprintf("search error: %v", err)
			return c
		}
		e, ok := entries[int64(res[0].Label)]
		if !ok {
			c.Details = append(c.Details, fmt.Sprintf("FAIL %q - entry not found for rowid %d", q.Text, res[0].Label))
			passed = false
			continue
		}
		if e.Category == q.Category {
			c.Details = append(c.Details, fmt.Sprintf("PASS %q -> %s", q.Text, e.Category))
		} else {
			c.Details = append(c.Details, fmt.Sprintf("WARN %q -> %s (expected: %s)", q.Text, e.Category, q.Category))
			mismatches++
		}
	}

	c.Passed = passed
	switch {
	case !passed:
		c.Message = "search tests failed"
	case mismatches > 0:
		c.Message = fmt.Sprintf("search OK: %d queries, %d category mismatches", len(queries), mismatches)
	default:
		c.Message = fmt.Sprintf("search OK: %d queries", len(queries))
	}
	return c
}

func recordedDim(ctx context.Context, dbPath string) int {
	store, err := knowledge.OpenReadOnly(dbPath)
	if err != nil {
		return types.DefaultEmbeddingDim
	}
	defer store.Close()
	s, err := store.Meta(ctx, knowledge.MetaEmbeddingDim)
	if err != nil || s == "" {
		return types.DefaultEmbeddingDim
	}
	var d int
	if _, err := fmt.Sscanf(s, "%d", &d); err != nil || d <= 0 {
		return types.DefaultEmbeddingDim
	}
	return d
}
