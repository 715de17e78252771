// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waycore/rag-knowledge/internal/catalog"
	"github.com/waycore/rag-knowledge/internal/embed"
	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/internal/parse"
	"github.com/waycore/rag-knowledge/pkg/types"
)

const testDim = 8

// hashEmbedder derives a vector from the sha256 of each text.
type hashEmbedder struct {
	dim int
}

func (h *hashEmbedder) ModelID() string { return "hash-test" }
func (h *hashEmbedder) Dim() int        { return h.dim }

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		v := make([]float32, h.dim)
		for j := range v {
			v[j] = float32(binary.LittleEndian.Uint16(sum[(j*2)%32:])) / 65535
		}
		v[0] += 1
		out[i] = v
	}
	return out, nil
}

var _ embed.Provider = (*hashEmbedder)(nil)

const survivalJSON = `{
  "skills": [
    {"name": "Bow drill fire", "description": "Carve a spindle and fireboard from dry softwood, then saw the bow steadily until an ember forms in the notch.", "subcategory": "fire"},
    {"name": "Solar still", "description": "Dig a pit, place a container in the centre, cover with plastic sheeting and weight the middle so condensation drips into the cup."}
  ]
}`

const plantsCSV = "common_name,scientific_name,family,description,edibility_rating\n" +
	"Dandelion,Taraxacum officinale,Asteraceae,\"Rosette of deeply toothed leaves with a hollow stem and a single yellow composite flower head.\",5\n"

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func testSources(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "sources")
	writeFile(t, filepath.Join(root, "survival", "skills.json"), survivalJSON)
	writeFile(t, filepath.Join(root, "plants", "plants.csv"), plantsCSV)
	writeFile(t, filepath.Join(root, ".cache", "ignored.json"), survivalJSON)
	writeFile(t, filepath.Join(root, "README.md"), "not a category")
	return root
}

func testConfig(t *testing.T, sources string) types.BuildConfig {
	t.Helper()
	return types.BuildConfig{
		SourcesDir:  sources,
		OutputDir:   filepath.Join(t.TempDir(), "generated"),
		LockTimeout: 200 * time.Millisecond,
		Embedding:   types.EmbeddingConfig{Dimensions: testDim, BatchSize: 2, Workers: 2},
	}
}

func testDeps(cat *catalog.Catalog) Deps {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Deps{
		Parser:   &parse.Parser{},
		Embedder: &hashEmbedder{dim: testDim},
		Catalog:  cat,
		Now:      func() time.Time { return fixed },
	}
}

func TestRunBuildsArtifacts(t *testing.T) {
	sources := testSources(t)
	cat, err := catalog.Parse([]byte(`sources:
  - file: survival/skills.json
    url: https://example.org/skills.json
    license: CC-BY-4.0
    subcategory: bushcraft
`))
	require.NoError(t, err)

	cfg := testConfig(t, sources)
	var out bytes.Buffer
	stats, err := Run(context.Background(), cfg, testDeps(cat), &out)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Zero(t, stats.FilesFailed)
	assert.Equal(t, map[string]int{"plants": 1, "survival": 2}, stats.Categories)
	assert.Len(t, stats.SourceHash, 64)
	assert.Positive(t, stats.DatabaseBytes)
	assert.Positive(t, stats.IndexBytes)
	assert.Contains(t, out.String(), "Processing category: plants")
	assert.Contains(t, out.String(), "BUILD COMPLETE")
	assert.NotContains(t, out.String(), "ignored.json")

	store, err := knowledge.OpenReadOnly(filepath.Join(cfg.OutputDir, types.DatabaseFile))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	model, err := store.Meta(ctx, knowledge.MetaEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "hash-test", model)
	dim, err := store.Meta(ctx, knowledge.MetaEmbeddingDim)
	require.NoError(t, err)
	assert.Equal(t, "8", dim)
	built, err := store.Meta(ctx, knowledge.MetaBuildTime)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", built)

	res, err := store.Retrieve(ctx, knowledge.QueryOptions{Category: "survival"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "https://example.org/skills.json", r.SourceURL)
		assert.Equal(t, "CC-BY-4.0", r.License)
		assert.Equal(t, "skills.json", r.SourceFile)
	}
	bySub := map[string]string{}
	for _, r := range res {
		bySub[r.Title] = r.Subcategory
	}
	assert.Equal(t, "fire", bySub["Bow drill fire"], "record subcategory wins over the catalog")
	assert.Equal(t, "bushcraft", bySub["Solar still"])

	plants, err := store.Retrieve(ctx, knowledge.QueryOptions{Category: "plants"})
	require.NoError(t, err)
	require.Len(t, plants, 1)
	assert.Equal(t, types.LicensePublicDomain, plants[0].License)
	assert.Equal(t, types.SafetyCaution, plants[0].SafetyLevel)

	idx, err := hnsw.Load(filepath.Join(cfg.OutputDir, types.VectorsFile), testDim)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	all, err := store.Retrieve(ctx, knowledge.QueryOptions{})
	require.NoError(t, err)
	var rowIDs, labels []int
	for _, r := range all {
		rowIDs = append(rowIDs, int(r.RowID))
	}
	for _, l := range idx.Labels() {
		labels = append(labels, int(l))
	}
	sort.Ints(rowIDs)
	sort.Ints(labels)
	assert.Equal(t, rowIDs, labels, "every rowid has exactly one vector")
}

func TestRunIsReproducible(t *testing.T) {
	sources := testSources(t)
	cfg := testConfig(t, sources)

	ids := func() []string {
		_, err := Run(context.Background(), cfg, testDeps(nil), &bytes.Buffer{})
		require.NoError(t, err)
		store, err := knowledge.OpenReadOnly(filepath.Join(cfg.OutputDir, types.DatabaseFile))
		require.NoError(t, err)
		defer store.Close()
		res, err := store.Retrieve(context.Background(), knowledge.QueryOptions{})
		require.NoError(t, err)
		var out []string
		for _, r := range res {
			out = append(out, r.ID)
		}
		sort.Strings(out)
		return out
	}

	first := ids()
	idx1, err := os.ReadFile(filepath.Join(cfg.OutputDir, types.VectorsFile))
	require.NoError(t, err)
	second := ids()
	idx2, err := os.ReadFile(filepath.Join(cfg.OutputDir, types.VectorsFile))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, idx1, idx2)
}

func TestRunCountsFailedFiles(t *testing.T) {
	sources := testSources(t)
	writeFile(t, filepath.Join(sources, "survival", "broken.json"), "{not json")
	writeFile(t, filepath.Join(sources, "survival", "manual.pdf"), "%PDF-1.4")

	var out bytes.Buffer
	stats, err := Run(context.Background(), testConfig(t, sources), testDeps(nil), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesFailed, "bad JSON and a PDF with no extractor")
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Contains(t, out.String(), "failed:   survival/broken.json")
	assert.Contains(t, out.String(), "Files failed:    2")
}

func TestRunNoEntries(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sources")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "survival"), 0o755))

	_, err := Run(context.Background(), testConfig(t, root), testDeps(nil), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestRunMissingSources(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "nope"))
	_, err := Run(context.Background(), cfg, testDeps(nil), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources directory not found")
}

func TestRunDimensionMismatch(t *testing.T) {
	cfg := testConfig(t, testSources(t))
	deps := testDeps(nil)
	deps.Embedder = &hashEmbedder{dim: 4}

	_, err := Run(context.Background(), cfg, deps, &bytes.Buffer{})
	assert.ErrorIs(t, err, embed.ErrDimensionMismatch)
}

func TestRunRejectsSingleLinkIndex(t *testing.T) {
	cfg := testConfig(t, testSources(t))
	cfg.Index.M = 1

	_, err := Run(context.Background(), cfg, testDeps(nil), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index m must be at least 2")
	assert.NoDirExists(t, cfg.OutputDir, "nothing written before the config is checked")
}

func TestRunLocked(t *testing.T) {
	cfg := testConfig(t, testSources(t))
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))

	held := flock.New(filepath.Join(cfg.OutputDir, LockFile))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = Run(context.Background(), cfg, testDeps(nil), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrLocked)
	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, types.DatabaseFile))
	assert.True(t, os.IsNotExist(statErr), "a locked build must not touch the output")
}

func TestRunReplacesPreviousOutput(t *testing.T) {
	cfg := testConfig(t, testSources(t))
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))
	writeFile(t, filepath.Join(cfg.OutputDir, types.VectorsFile), "stale")

	_, err := Run(context.Background(), cfg, testDeps(nil), &bytes.Buffer{})
	require.NoError(t, err)

	_, err = hnsw.Load(filepath.Join(cfg.OutputDir, types.VectorsFile), testDim)
	assert.NoError(t, err)
}

func TestEntryID(t *testing.T) {
	a := EntryID("survival/a.pdf", 1, 0, "text")
	assert.Equal(t, a, EntryID("survival/a.pdf", 1, 0, "text"))
	assert.Len(t, a, 36)

	for _, other := range []string{
		EntryID("survival/b.pdf", 1, 0, "text"),
		EntryID("survival/a.pdf", 2, 0, "text"),
		EntryID("survival/a.pdf", 1, 1, "text"),
		EntryID("survival/a.pdf", 1, 0, "other"),
	} {
		assert.NotEqual(t, a, other)
	}
}

func TestWalkSourcesOrder(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{
		"weather/b.csv", "weather/a.json", "weather/z.pdf", "weather/notes.txt",
		"comms/x.json", ".git/config.json",
	} {
		writeFile(t, filepath.Join(root, f), "{}")
	}

	files, cats, err := walkSources(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"comms", "weather"}, cats)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.rel)
	}
	assert.Equal(t, []string{"comms/x.json", "weather/z.pdf", "weather/a.json", "weather/b.csv"}, rels)
}

func TestSourceHashTracksContent(t *testing.T) {
	root := testSources(t)
	files, _, err := walkSources(root)
	require.NoError(t, err)

	h1, err := sourceHash(root, files)
	require.NoError(t, err)
	h2, err := sourceHash(root, files)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	writeFile(t, filepath.Join(root, "plants", "plants.csv"), strings.Replace(plantsCSV, "Dandelion", "Dandelions", 1))
	h3, err := sourceHash(root, files)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
