// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hnsw

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waycore/rag-knowledge/pkg/types"
)

func randomVectors(n, dim int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, 7))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

// bruteForce returns the k nearest labels (label = index + 1) by cosine distance.
func bruteForce(vecs [][]float32, q []float32, k int) []uint64 {
	qn := normalize(q)
	type hit struct {
		label uint64
		d     float32
	}
	hits := make([]hit, len(vecs))
	for i, v := range vecs {
		hits[i] = hit{uint64(i + 1), 1 - dot(qn, normalize(v))}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	out := make([]uint64, k)
	for i := range out {
		out[i] = hits[i].label
	}
	return out
}

func newIndex(t *testing.T, dim int, cfg types.IndexConfig) *Index {
	t.Helper()
	x, err := New(dim, cfg)
	require.NoError(t, err)
	return x
}

func build(t *testing.T, vecs [][]float32, dim int) *Index {
	t.Helper()
	x := newIndex(t, dim, types.IndexConfig{})
	for i, v := range vecs {
		require.NoError(t, x.Add(uint64(i+1), v))
	}
	return x
}

func TestEmptyIndex(t *testing.T) {
	x := newIndex(t, 3, types.IndexConfig{})
	_, err := x.Search([]float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrEmptyIndex)
	assert.Equal(t, 0, x.Len())
}

func TestDefaults(t *testing.T) {
	cfg := newIndex(t, 3, types.IndexConfig{}).Config()
	assert.Equal(t, types.IndexConfig{M: 16, EfConstruction: 200, EfSearch: 50, Seed: 100}, cfg)
}

func TestNewRejectsConfig(t *testing.T) {
	tests := []struct {
		name string
		dim  int
		cfg  types.IndexConfig
	}{
		{"single link", 3, types.IndexConfig{M: 1}},
		{"zero dimension", 0, types.IndexConfig{}},
		{"negative dimension", -4, types.IndexConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := New(tt.dim, tt.cfg)
			assert.Error(t, err)
			assert.Nil(t, x)
		})
	}
}

func TestSmallestM(t *testing.T) {
	x := newIndex(t, 3, types.IndexConfig{M: 2})
	for i := range 20 {
		require.NoError(t, x.Add(uint64(i+1), []float32{1, float32(i), 0.5}))
	}
	path := filepath.Join(t.TempDir(), "m2.idx")
	require.NoError(t, x.Save(path))
	y, err := Load(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 20, y.Len())
	assert.Equal(t, 2, y.Config().M)
}

func TestAddRejects(t *testing.T) {
	x := newIndex(t, 3, types.IndexConfig{})
	assert.ErrorIs(t, x.Add(1, []float32{1, 0}), ErrDimensionMismatch)
	require.NoError(t, x.Add(1, []float32{1, 0, 0}))
	assert.Error(t, x.Add(1, []float32{0, 1, 0}), "duplicate label")
	_, err := x.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchCosine(t *testing.T) {
	x := newIndex(t, 3, types.IndexConfig{})
	require.NoError(t, x.Add(10, []float32{1, 0, 0}))
	require.NoError(t, x.Add(20, []float32{0, 5, 0}))
	require.NoError(t, x.Add(30, []float32{3, 3, 0}))

	res, err := x.Search([]float32{2, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 3, "k is capped at Len")

	assert.Equal(t, uint64(10), res[0].Label)
	assert.InDelta(t, 0, res[0].Distance, 1e-6)
	assert.Equal(t, uint64(30), res[1].Label)
	assert.InDelta(t, 1-1/math.Sqrt2, res[1].Distance, 1e-6)
	assert.Equal(t, uint64(20), res[2].Label)
	assert.InDelta(t, 1, res[2].Distance, 1e-6)
}

func TestSearchRecall(t *testing.T) {
	const (
		n   = 1000
		dim = 16
		k   = 10
	)
	vecs := randomVectors(n, dim, 1)
	x := build(t, vecs, dim)
	assert.Equal(t, n, x.Len())

	queries := randomVectors(50, dim, 2)
	hits := 0
	for _, q := range queries {
		res, err := x.Search(q, k)
		require.NoError(t, err)
		require.Len(t, res, k)
		for i := 1; i < len(res); i++ {
			assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
		}
		want := map[uint64]bool{}
		for _, l := range bruteForce(vecs, q, k) {
			want[l] = true
		}
		for _, r := range res {
			if want[r.Label] {
				hits++
			}
		}
	}
	recall := float64(hits) / float64(len(queries)*k)
	assert.Greater(t, recall, 0.9, "recall@%d = %.3f", k, recall)
}

func TestDeterministicBuild(t *testing.T) {
	vecs := randomVectors(200, 8, 3)
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.idx"), filepath.Join(dir, "b.idx")
	require.NoError(t, build(t, vecs, 8).Save(a))
	require.NoError(t, build(t, vecs, 8).Save(b))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db, "same seed and input must produce identical files")
}

func TestSaveLoad(t *testing.T) {
	vecs := randomVectors(300, 12, 4)
	x := build(t, vecs, 12)
	path := filepath.Join(t.TempDir(), "vectors.idx")
	require.NoError(t, x.Save(path))

	y, err := Load(path, 12)
	require.NoError(t, err)
	assert.Equal(t, x.Len(), y.Len())
	assert.Equal(t, x.Labels(), y.Labels())
	assert.Equal(t, x.Config(), y.Config())

	for _, q := range randomVectors(10, 12, 5) {
		rx, err := x.Search(q, 5)
		require.NoError(t, err)
		ry, err := y.Search(q, 5)
		require.NoError(t, err)
		assert.Equal(t, rx, ry)
	}

	// A loaded index accepts further inserts.
	require.NoError(t, y.Add(9999, vecs[0]))
	res, err := y.Search(vecs[0], 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, res[0].Distance, 1e-5)
}

func TestLoadRejects(t *testing.T) {
	x := build(t, randomVectors(20, 4, 6), 4)
	dir := t.TempDir()
	good := filepath.Join(dir, "vectors.idx")
	require.NoError(t, x.Save(good))

	_, err := Load(good, 384)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	data, err := os.ReadFile(good)
	require.NoError(t, err)

	badMagic := append([]byte("HNSWLIB0"), data[8:]...)
	p := filepath.Join(dir, "magic.idx")
	require.NoError(t, os.WriteFile(p, badMagic, 0o644))
	_, err = Load(p, 4)
	assert.ErrorContains(t, err, "bad magic")

	badVersion := append([]byte(nil), data...)
	badVersion[8] = 9
	p = filepath.Join(dir, "version.idx")
	require.NoError(t, os.WriteFile(p, badVersion, 0o644))
	_, err = Load(p, 4)
	assert.ErrorContains(t, err, "format version")

	p = filepath.Join(dir, "short.idx")
	require.NoError(t, os.WriteFile(p, data[:len(data)/2], 0o644))
	_, err = Load(p, 4)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "absent.idx"), 4)
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, build(t, randomVectors(5, 3, 8), 3).Save(filepath.Join(dir, "vectors.idx")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vectors.idx", entries[0].Name())
}

func TestEmptyIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.idx")
	require.NoError(t, newIndex(t, 3, types.IndexConfig{}).Save(path))
	y, err := Load(path, 3)
	require.NoError(t, err)
	_, err = y.Search([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}
