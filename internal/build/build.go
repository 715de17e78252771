// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package build runs the index build: it walks the sources tree, parses
// every document into entries, stores them in knowledge.db, embeds their
// content and writes the vectors.idx HNSW index labelled by rowid.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/waycore/rag-knowledge/internal/catalog"
	"github.com/waycore/rag-knowledge/internal/embed"
	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/httputil"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/internal/parse"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var (
	// ErrLocked is returned when another build holds the output directory.
	ErrLocked = errors.New("output directory is locked by another build")

	// ErrNoEntries is returned when the sources yield nothing to index.
	ErrNoEntries = errors.New("no entries in database")
)

// LockFile is created in the output directory for the duration of a build.
const LockFile = ".build.lock"

// entryNamespace scopes the deterministic entry ids.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://waycore.dev/rag-knowledge/entries"))

// FileParser turns one source file into records.
type FileParser interface {
	File(ctx context.Context, path, category string) ([]parse.Record, error)
}

// Deps are the collaborators a build needs.
type Deps struct {
	Parser   FileParser
	Embedder embed.Provider

	// Catalog supplies per-file license, url and subcategory. Nil means
	// every file gets the defaults.
	Catalog *catalog.Catalog

	// Now stamps created_at and the build time. Defaults to time.Now.
	Now func() time.Time
}

// Stats summarises a build.
type Stats struct {
	Categories     map[string]int `json:"categories"`
	TotalEntries   int            `json:"total_entries"`
	FilesProcessed int            `json:"files_processed"`
	FilesFailed    int            `json:"files_failed"`
	SourceHash     string         `json:"source_hash"`
	EmbeddingModel string         `json:"embedding_model"`
	Dimensions     int            `json:"embedding_dimensions"`
	DatabaseBytes  int64          `json:"database_bytes"`
	IndexBytes     int64          `json:"index_bytes"`
	BuildTime      time.Time      `json:"build_timestamp"`
}

// sourceFile is one parseable file under a category directory.
type sourceFile struct {
	category string
	rel      string // slash-separated, relative to the sources root
	path     string
}

// Run executes a full build. Per-file parse failures are reported to w and
// counted; database, embedding and index failures abort the build.
func Run(ctx context.Context, cfg types.BuildConfig, deps Deps, w io.Writer) (Stats, error) {
	cfg = cfg.WithDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Parser == nil || deps.Embedder == nil {
		return Stats{}, errors.New("build needs a parser and an embedder")
	}
	if err := cfg.Index.Validate(); err != nil {
		return Stats{}, err
	}
	if dim := deps.Embedder.Dim(); dim != cfg.Embedding.Dimensions {
		return Stats{}, fmt.Errorf("embedder produces %d dimensions, config says %d: %w",
			dim, cfg.Embedding.Dimensions, embed.ErrDimensionMismatch)
	}

	info, err := os.Stat(cfg.SourcesDir)
	if err != nil || !info.IsDir() {
		return Stats{}, fmt.Errorf("sources directory not found: %s", cfg.SourcesDir)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("creating output directory: %w", err)
	}

	unlock, err := lockOutput(ctx, cfg.OutputDir, cfg.LockTimeout)
	if err != nil {
		return Stats{}, err
	}
	defer unlock()

	dbPath := filepath.Join(cfg.OutputDir, types.DatabaseFile)
	idxPath := filepath.Join(cfg.OutputDir, types.VectorsFile)
	for _, p := range []string{dbPath, idxPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Stats{}, fmt.Errorf("removing previous %s: %w", filepath.Base(p), err)
		}
	}

	started := deps.Now()
	stats := Stats{
		Categories:     make(map[string]int),
		EmbeddingModel: deps.Embedder.ModelID(),
		Dimensions:     cfg.Embedding.Dimensions,
		BuildTime:      started.UTC(),
	}

	fmt.Fprintln(w, "RAG knowledge index build")
	fmt.Fprintf(w, "sources: %s\noutput:  %s\nmodel:   %s (%d dimensions)\n\n",
		cfg.SourcesDir, cfg.OutputDir, stats.EmbeddingModel, stats.Dimensions)

	files, categories, err := walkSources(cfg.SourcesDir)
	if err != nil {
		return Stats{}, err
	}
	stats.SourceHash, err = sourceHash(cfg.SourcesDir, files)
	if err != nil {
		return Stats{}, err
	}

	store, err := knowledge.Open(dbPath)
	if err != nil {
		return Stats{}, err
	}
	defer store.Close()

	for _, cat := range categories {
		stats.Categories[cat] = 0
	}
	current := ""
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if f.category != current {
			current = f.category
			fmt.Fprintf(w, "Processing category: %s\n", current)
		}

		recs, err := deps.Parser.File(ctx, f.path, f.category)
		if err != nil {
			fmt.Fprintf(w, "  failed:   %s (%v)\n", f.rel, err)
			stats.FilesFailed++
			continue
		}
		entries := toEntries(recs, f, deps.Catalog, started)
		if _, err := store.InsertEntries(ctx, entries); err != nil {
			return stats, fmt.Errorf("storing entries from %s: %w", f.rel, err)
		}
		fmt.Fprintf(w, "  indexing: %s (%d entries)\n", f.rel, len(entries))
		stats.FilesProcessed++
		stats.Categories[f.category] += len(entries)
		stats.TotalEntries += len(entries)
	}
	fmt.Fprintf(w, "\nInserted %d entries into database\n", stats.TotalEntries)

	if stats.TotalEntries == 0 {
		return stats, ErrNoEntries
	}

	fmt.Fprintln(w, "\nBuilding vector index...")
	if err := buildIndex(ctx, store, deps.Embedder, cfg, idxPath, stats.TotalEntries, w); err != nil {
		return stats, err
	}
	if cp, ok := deps.Embedder.(*embed.CachedProvider); ok {
		hits, misses := cp.Stats()
		fmt.Fprintf(w, "  embedding cache: %d hits, %d misses\n", hits, misses)
	}

	meta := [][2]string{
		{knowledge.MetaEmbeddingModel, stats.EmbeddingModel},
		{knowledge.MetaEmbeddingDim, strconv.Itoa(stats.Dimensions)},
		{knowledge.MetaBuildTime, stats.BuildTime.Format(time.RFC3339)},
		{knowledge.MetaSourceHash, stats.SourceHash},
	}
	for _, kv := range meta {
		if err := store.SetMeta(ctx, kv[0], kv[1]); err != nil {
			return stats, err
		}
	}
	if err := store.Close(); err != nil {
		return stats, fmt.Errorf("closing database: %w", err)
	}

	stats.DatabaseBytes = fileSize(dbPath)
	stats.IndexBytes = fileSize(idxPath)
	writeSummary(w, stats, dbPath, idxPath)
	return stats, nil
}

// lockOutput takes an exclusive flock on the output directory, waiting up
// to timeout for a concurrent build to finish.
func lockOutput(ctx context.Context, dir string, timeout time.Duration) (func(), error) {
	path := filepath.Join(dir, LockFile)
	l := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	locked, err := l.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return func() { _ = l.Unlock() }, nil
}

// walkSources lists category directories (sorted, dot-directories skipped)
// and within each the .pdf, then .json, then .csv files, each group sorted.
func walkSources(root string) ([]sourceFile, []string, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("reading sources directory: %w", err)
	}

	var (
		files      []sourceFile
		categories []string
	)
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		cat := d.Name()
		categories = append(categories, cat)

		entries, err := os.ReadDir(filepath.Join(root, cat))
		if err != nil {
			return nil, nil, fmt.Errorf("reading category %s: %w", cat, err)
		}
		for _, ext := range parse.Extensions {
			var names []string
			for _, e := range entries {
				if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, n := range names {
				files = append(files, sourceFile{
					category: cat,
					rel:      cat + "/" + n,
					path:     filepath.Join(root, cat, n),
				})
			}
		}
	}
	return files, categories, nil
}

// EntryID derives a stable id from an entry's provenance and content, so a
// rebuild over unchanged sources reproduces the same ids.
func EntryID(sourceFile string, page, ordinal int, content string) string {
	name := sourceFile + "\x00" + strconv.Itoa(page) + "\x00" + strconv.Itoa(ordinal) + "\x00" + content
	return uuid.NewSHA1(entryNamespace, []byte(name)).String()
}

func toEntries(recs []parse.Record, f sourceFile, cat *catalog.Catalog, now time.Time) []types.Entry {
	src, _ := cat.Lookup(f.rel)
	license := cat.LicenseFor(f.rel)

	entries := make([]types.Entry, 0, len(recs))
	for i, r := range recs {
		sub := r.Subcategory
		if sub == "" {
			sub = src.Subcategory
		}
		entries = append(entries, types.Entry{
			ID:          EntryID(f.rel, r.Page, i, r.Content),
			Title:       r.Title,
			Content:     r.Content,
			Category:    f.category,
			Subcategory: sub,
			SafetyLevel: r.SafetyLevel,
			SafetyNotes: r.SafetyNotes,
			SourceFile:  filepath.Base(f.path),
			SourcePage:  r.Page,
			SourceURL:   src.URL,
			License:     license,
			Tags:        r.Tags,
			CreatedAt:   now,
		})
	}
	return entries
}

// buildIndex streams entry contents in rowid order, embeds them and writes
// the HNSW index.
func buildIndex(ctx context.Context, store *knowledge.Store, p embed.Provider, cfg types.BuildConfig, path string, total int, w io.Writer) error {
	idx, err := hnsw.New(cfg.Embedding.Dimensions, cfg.Index)
	if err != nil {
		return err
	}
	page := cfg.Embedding.BatchSize * cfg.Embedding.Workers
	done := 0

	err = store.Contents(ctx, page, func(rowIDs []int64, texts []string) error {
		vecs, err := embed.Batch(ctx, p, texts, cfg.Embedding.BatchSize, cfg.Embedding.Workers, nil)
		if err != nil {
			return err
		}
		for i, v := range vecs {
			if err := idx.Add(uint64(rowIDs[i]), v); err != nil {
				return fmt.Errorf("indexing rowid %d: %w", rowIDs[i], err)
			}
		}
		done += len(rowIDs)
		fmt.Fprintf(w, "  processed %d/%d entries\n", done, total)
		return nil
	})
	if err != nil {
		return fmt.Errorf("building vector index: %w", err)
	}
	if idx.Len() != total {
		return fmt.Errorf("vector index holds %d vectors for %d entries", idx.Len(), total)
	}
	if err := idx.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "  saved vector index to %s\n", path)
	return nil
}

func writeSummary(w io.Writer, s Stats, dbPath, idxPath string) {
	fmt.Fprintln(w, "\nBUILD COMPLETE")
	fmt.Fprintf(w, "\nFiles processed: %d\n", s.FilesProcessed)
	if s.FilesFailed > 0 {
		fmt.Fprintf(w, "Files failed:    %d\n", s.FilesFailed)
	}
	fmt.Fprintf(w, "Total entries:   %d\n", s.TotalEntries)
	fmt.Fprintln(w, "\nEntries by category:")
	cats := make([]string, 0, len(s.Categories))
	for c := range s.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(w, "  %s: %d\n", c, s.Categories[c])
	}
	fmt.Fprintln(w, "\nOutput files:")
	fmt.Fprintf(w, "  %s (%.1f MB)\n", dbPath, float64(s.DatabaseBytes)/1024/1024)
	fmt.Fprintf(w, "  %s (%.1f MB)\n", idxPath, float64(s.IndexBytes)/1024/1024)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// sourceHash fingerprints the inputs of a build: the catalog file, if any,
// and every source file, keyed by relative path.
func sourceHash(root string, files []sourceFile) (string, error) {
	type item struct{ rel, sum string }
	items := make([]item, 0, len(files)+1)

	if sum, err := httputil.FileSHA256(filepath.Join(root, catalog.FileName)); err == nil {
		items = append(items, item{catalog.FileName, sum})
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("hashing %s: %w", catalog.FileName, err)
	}
	for _, f := range files {
		sum, err := httputil.FileSHA256(f.path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", f.rel, err)
		}
		items = append(items, item{f.rel, sum})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].rel < items[j].rel })

	h := sha256.New()
	for _, it := range items {
		fmt.Fprintf(h, "%s\x00%s\n", it.rel, it.sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
