// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/internal/manifest"
	"github.com/waycore/rag-knowledge/pkg/types"
)

type topicEmbedder struct{ dim int }

var topics = []string{"fire", "map", "water"}

func (topicEmbedder) ModelID() string { return "topic-test" }
func (e topicEmbedder) Dim() int      { return e.dim }

func (e topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		for j := range v {
			v[j] = 0.01
			if j < len(topics) {
				v[j] += float32(strings.Count(strings.ToLower(t), topics[j]))
			}
		}
		out[i] = v
	}
	return out, nil
}

var embedder = topicEmbedder{dim: 3}

var sampleQueries = []Query{
	{Text: "fire", Category: "survival"},
	{Text: "map", Category: "navigation"},
}

func writeDB(t *testing.T, dir string, entries []types.Entry) []int64 {
	t.Helper()
	store, err := knowledge.Open(filepath.Join(dir, types.DatabaseFile))
	require.NoError(t, err)
	defer store.Close()
	ids, err := store.InsertEntries(context.Background(), entries)
	require.NoError(t, err)
	require.NoError(t, store.SetMeta(context.Background(), knowledge.MetaEmbeddingDim, "3"))
	return ids
}

func writeIndex(t *testing.T, dir string, labels []int64, texts []string) {
	t.Helper()
	vecs, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)
	idx, err := hnsw.New(embedder.dim, types.IndexConfig{})
	require.NoError(t, err)
	for i, l := range labels {
		require.NoError(t, idx.Add(uint64(l), vecs[i]))
	}
	require.NoError(t, idx.Save(filepath.Join(dir, types.VectorsFile)))
}

var fixture = []types.Entry{
	{ID: "fire-1", Title: "Fire", Content: "Lighting a fire with flint", Category: "survival", SafetyLevel: types.SafetySafe},
	{ID: "map-1", Title: "Map", Content: "Orienting a map with a compass", Category: "navigation", SafetyLevel: types.SafetySafe},
	{ID: "water-1", Title: "Water", Content: "Finding water in the desert", Category: "survival", SafetyLevel: types.SafetyCaution},
}

// writeRelease produces a consistent knowledge.db, vectors.idx and
// manifest.json.
func writeRelease(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ids := writeDB(t, dir, fixture)
	texts := make([]string, len(fixture))
	for i, e := range fixture {
		texts[i] = e.Content
	}
	writeIndex(t, dir, ids, texts)

	m, err := manifest.Generate(context.Background(), dir, manifest.Options{})
	require.NoError(t, err)
	require.NoError(t, manifest.Write(filepath.Join(dir, types.ManifestFile), m))
	return dir
}

func TestRunAllPass(t *testing.T) {
	dir := writeRelease(t)
	var out bytes.Buffer

	r := Run(context.Background(), Options{Dir: dir, Embedder: embedder, Queries: sampleQueries}, &out)
	assert.True(t, r.Passed(), out.String())
	require.Len(t, r.Checks, 4)
	assert.Equal(t, []string{"database", "vector_index", "manifest", "search"},
		[]string{r.Checks[0].Name, r.Checks[1].Name, r.Checks[2].Name, r.Checks[3].Name})
	assert.Contains(t, out.String(), "All verification checks passed.")
	assert.Contains(t, out.String(), `PASS "fire" -> survival`)
}

func TestRunWithoutEmbedder(t *testing.T) {
	dir := writeRelease(t)
	var out bytes.Buffer

	r := Run(context.Background(), Options{Dir: dir}, &out)
	assert.True(t, r.Passed())
	assert.Len(t, r.Checks, 3)
	assert.Contains(t, out.String(), "warning: no embedder configured")
}

func TestRunMissingDirectory(t *testing.T) {
	r := Run(context.Background(), Options{Dir: filepath.Join(t.TempDir(), "nope"), Embedder: embedder}, &bytes.Buffer{})
	assert.False(t, r.Passed())
	for _, c := range r.Checks {
		assert.False(t, c.Passed, c.Name)
	}
}

func TestDatabaseEmpty(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, nil)

	c := Database(context.Background(), filepath.Join(dir, types.DatabaseFile))
	assert.False(t, c.Passed)
	assert.Equal(t, "no entries in database", c.Message)
}

func TestVectorIndexChecks(t *testing.T) {
	tests := []struct {
		name    string
		labels  func(ids []int64) []int64
		dim     int
		wantMsg string
	}{
		{"count mismatch", func(ids []int64) []int64 { return ids[:2] }, 3, "does not match entry count"},
		{"orphan label", func(ids []int64) []int64 { return []int64{ids[0], ids[1], 999} }, 3, "have no matching entry"},
		{"dimension", func(ids []int64) []int64 { return ids }, 8, "dimensions"},
		{"ok", func(ids []int64) []int64 { return ids }, 3, "vector index OK: 3 vectors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ids := writeDB(t, dir, fixture)
			labels := tt.labels(ids)
			writeIndex(t, dir, labels, []string{"fire", "map", "water"}[:len(labels)])

			c := VectorIndex(context.Background(), filepath.Join(dir, types.DatabaseFile), filepath.Join(dir, types.VectorsFile), tt.dim)
			assert.Contains(t, c.Message, tt.wantMsg)
			assert.Equal(t, tt.name == "ok", c.Passed)
		})
	}
}

func TestManifestChecks(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, dir string)
		wantMsg string
	}{
		{"ok", func(*testing.T, string) {}, "manifest OK: v1.0.0"},
		{"missing", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, types.ManifestFile)))
		}, "manifest not found"},
		{"missing field", func(t *testing.T, dir string) {
			writeFile(t, filepath.Join(dir, types.ManifestFile), `{"version":"1","total_entries":3,"categories":{}}`)
		}, "missing field: files"},
		{"count mismatch", func(t *testing.T, dir string) {
			writeFile(t, filepath.Join(dir, types.ManifestFile), `{"version":"1","total_entries":7,"categories":{},"files":{}}`)
		}, "entry count mismatch: manifest=7, db=3"},
		{"hash mismatch", func(t *testing.T, dir string) {
			path := filepath.Join(dir, types.ManifestFile)
			m, err := manifest.Load(path)
			require.NoError(t, err)
			info := m.Files[types.VectorsFile]
			info.SHA256 = strings.Repeat("0", 64)
			m.Files[types.VectorsFile] = info
			require.NoError(t, manifest.Write(path, m))
		}, "vectors.idx sha256 mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeRelease(t)
			tt.mutate(t, dir)

			c := Manifest(context.Background(), filepath.Join(dir, types.ManifestFile), dir)
			assert.Contains(t, c.Message, tt.wantMsg)
			assert.Equal(t, tt.name == "ok", c.Passed)
		})
	}
}

func TestSearchCategoryMismatchOnlyWarns(t *testing.T) {
	dir := writeRelease(t)

	c := Search(context.Background(), filepath.Join(dir, types.DatabaseFile), filepath.Join(dir, types.VectorsFile),
		embedder, []Query{{Text: "water", Category: "knots"}})
	assert.True(t, c.Passed)
	assert.Contains(t, c.Message, "1 category mismatches")
	require.Len(t, c.Details, 1)
	assert.Contains(t, c.Details[0], "WARN")
}

func TestSearchDanglingRowID(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, fixture)
	writeIndex(t, dir, []int64{500}, []string{"fire"})

	c := Search(context.Background(), filepath.Join(dir, types.DatabaseFile), filepath.Join(dir, types.VectorsFile),
		embedder, sampleQueries[:1])
	assert.False(t, c.Passed)
	assert.Contains(t, c.Details[0], "entry not found for rowid 500")
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}
