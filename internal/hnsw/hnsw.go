// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package hnsw is an in-memory hierarchical navigable small-world graph for
// approximate nearest-neighbour search in cosine space. Vectors are
// normalised on insert, so distance is 1 - dot product. Labels are caller
// supplied; the build uses entries.rowid.
package hnsw

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/waycore/rag-knowledge/pkg/types"
)

var (
	// ErrEmptyIndex is returned when searching an index with no vectors.
	ErrEmptyIndex = errors.New("vector index is empty")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// SpaceCosine is the only supported distance space.
const SpaceCosine = "cosine"

const maxLevelCap = 16

// Result is one search hit.
type Result struct {
	Label    uint64
	Distance float32
}

// Index is safe for concurrent searches; Add takes an exclusive lock.
type Index struct {
	mu sync.RWMutex

	dim  int
	m    int
	m0   int
	efC  int
	ef   int
	seed int64
	mL   float64
	rng  *rand.Rand

	vecs    []float32 // node i occupies vecs[i*dim : (i+1)*dim]
	labels  []uint64
	links   [][][]uint32 // node -> layer -> neighbour node ids
	byLabel map[uint64]uint32

	entry    int32
	maxLevel int
}

// New returns an empty index for vectors of length dim.
func New(dim int, cfg types.IndexConfig) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", dim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	return &Index{
		dim:      dim,
		m:        cfg.M,
		m0:       2 * cfg.M,
		efC:      cfg.EfConstruction,
		ef:       cfg.EfSearch,
		seed:     cfg.Seed,
		mL:       1 / math.Log(float64(cfg.M)),
		rng:      newRand(cfg.Seed, 0),
		byLabel:  make(map[uint64]uint32),
		entry:    -1,
		maxLevel: -1,
	}, nil
}

func newRand(seed int64, n int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(n)))
}

// Dim returns the vector length.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.labels)
}

// Config returns the construction and search parameters.
func (x *Index) Config() types.IndexConfig {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return types.IndexConfig{M: x.m, EfConstruction: x.efC, EfSearch: x.ef, Seed: x.seed}
}

// SetEf changes the search candidate list size.
func (x *Index) SetEf(ef int) {
	if ef <= 0 {
		return
	}
	x.mu.Lock()
	x.ef = ef
	x.mu.Unlock()
}

// Labels returns every label in insertion order.
func (x *Index) Labels() []uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]uint64(nil), x.labels...)
}

// Add inserts vec under label.
func (x *Index) Add(label uint64, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("label %d: got %d dimensions, want %d: %w", label, len(vec), x.dim, ErrDimensionMismatch)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, dup := x.byLabel[label]; dup {
		return fmt.Errorf("label %d already in index", label)
	}

	id := uint32(len(x.labels))
	x.vecs = append(x.vecs, normalize(vec)...)
	x.labels = append(x.labels, label)
	x.byLabel[label] = id

	level := x.randomLevel()
	x.links = append(x.links, make([][]uint32, level+1))

	if x.entry < 0 {
		x.entry = int32(id)
		x.maxLevel = level
		return nil
	}

	q := x.vec(id)
	ep := uint32(x.entry)
	for lc := x.maxLevel; lc > level; lc-- {
		ep = x.greedy(q, ep, lc)
	}

	for lc := min(level, x.maxLevel); lc >= 0; lc-- {
		found := x.searchLayer(q, ep, x.efC, lc)
		maxConn := x.m
		if lc == 0 {
			maxConn = x.m0
		}
		neighbours := closest(found, x.m)
		x.links[id][lc] = neighbours
		for _, n := range neighbours {
			x.links[n][lc] = append(x.links[n][lc], id)
			if len(x.links[n][lc]) > maxConn {
				x.shrink(n, lc, maxConn)
			}
		}
		ep = found[0].id
	}

	if level > x.maxLevel {
		x.entry = int32(id)
		x.maxLevel = level
	}
	return nil
}

// Search returns up to k nearest labels to vec, closest first. k is capped
// at Len.
func (x *Index) Search(vec []float32, k int) ([]Result, error) {
	if len(vec) != x.dim {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w", len(vec), x.dim, ErrDimensionMismatch)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.entry < 0 {
		return nil, ErrEmptyIndex
	}
	k = min(k, len(x.labels))
	if k <= 0 {
		return nil, nil
	}

	q := normalize(vec)
	ep := uint32(x.entry)
	for lc := x.maxLevel; lc > 0; lc-- {
		ep = x.greedy(q, ep, lc)
	}
	found := x.searchLayer(q, ep, max(x.ef, k), 0)

	out := make([]Result, 0, k)
	for _, c := range found[:min(k, len(found))] {
		out = append(out, Result{Label: x.labels[c.id], Distance: c.dist})
	}
	return out, nil
}

func (x *Index) vec(id uint32) []float32 {
	return x.vecs[int(id)*x.dim : int(id+1)*x.dim]
}

func (x *Index) dist(q []float32, id uint32) float32 {
	return 1 - dot(q, x.vec(id))
}

func (x *Index) randomLevel() int {
	u := 1 - x.rng.Float64() // (0, 1]
	l := int(math.Floor(-math.Log(u) * x.mL))
	return min(l, maxLevelCap)
}

// greedy walks layer lc from ep towards q until no neighbour is closer.
func (x *Index) greedy(q []float32, ep uint32, lc int) uint32 {
	cur, curDist := ep, x.dist(q, ep)
	for changed := true; changed; {
		changed = false
		for _, n := range x.links[cur][lc] {
			if d := x.dist(q, n); d < curDist {
				cur, curDist, changed = n, d, true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef nodes nearest to q on layer lc, sorted by
// ascending distance.
func (x *Index) searchLayer(q []float32, ep uint32, ef, lc int) []candidate {
	visited := map[uint32]struct{}{ep: {}}
	start := candidate{id: ep, dist: x.dist(q, ep)}
	cands := &minHeap{start}
	found := &maxHeap{start}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if c.dist > (*found)[0].dist && found.Len() >= ef {
			break
		}
		for _, n := range x.links[c.id][lc] {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			d := x.dist(q, n)
			if found.Len() < ef || d < (*found)[0].dist {
				heap.Push(cands, candidate{id: n, dist: d})
				heap.Push(found, candidate{id: n, dist: d})
				if found.Len() > ef {
					heap.Pop(found)
				}
			}
		}
	}

	out := make([]candidate, found.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(found).(candidate)
	}
	return out
}

// shrink keeps the maxConn neighbours of node n on layer lc closest to n.
func (x *Index) shrink(n uint32, lc, maxConn int) {
	base := x.vec(n)
	cs := make([]candidate, len(x.links[n][lc]))
	for i, o := range x.links[n][lc] {
		cs[i] = candidate{id: o, dist: x.dist(base, o)}
	}
	sortCandidates(cs)
	x.links[n][lc] = closest(cs, maxConn)
}

func closest(sorted []candidate, n int) []uint32 {
	n = min(n, len(sorted))
	out := make([]uint32, n)
	for i := range out {
		out[i] = sorted[i].id
	}
	return out
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
