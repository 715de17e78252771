// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieve answers queries against a released index: semantic kNN
// over vectors.idx joined back to knowledge.db by rowid, FTS5 keyword
// search, and a hybrid of the two fused by reciprocal rank.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/waycore/rag-knowledge/internal/embed"
	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeSemantic, ModeKeyword, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("unknown search mode %q (want semantic, keyword or hybrid)", s)
}

const (
	// DefaultK is the result count when the options leave it unset.
	DefaultK = 10

	// rrfK dampens the contribution of low ranks in reciprocal rank fusion.
	rrfK = 60

	// overFetch multiplies k when filters may drop nearest neighbours.
	overFetch = 4
)

// Hit is an entry with its retrieval score. Higher scores are better in
// every mode.
type Hit struct {
	types.Entry
	Score float64 `json:"score" yaml:"score"`
}

// Searcher queries one knowledge.db and vectors.idx pair.
type Searcher struct {
	store    *knowledge.Store
	index    *hnsw.Index
	embedder embed.Provider
}

// New wraps an open store and index. embedder may be nil when only keyword
// search is used.
func New(store *knowledge.Store, index *hnsw.Index, embedder embed.Provider) *Searcher {
	return &Searcher{store: store, index: index, embedder: embedder}
}

// Open loads the artifacts in dir. The database is opened read-only. When
// the database records an embedding model or dimension that disagrees with
// embedder, Open fails rather than returning meaningless neighbours.
func Open(ctx context.Context, dir string, embedder embed.Provider) (*Searcher, error) {
	store, err := knowledge.OpenReadOnly(filepath.Join(dir, types.DatabaseFile))
	if err != nil {
		return nil, err
	}

	dim := 0
	if embedder != nil {
		dim = embedder.Dim()
		if err := checkModel(ctx, store, embedder); err != nil {
			store.Close()
			return nil, err
		}
	}
	index, err := hnsw.Load(filepath.Join(dir, types.VectorsFile), dim)
	if err != nil {
		store.Close()
		return nil, err
	}
	return New(store, index, embedder), nil
}

func checkModel(ctx context.Context, store *knowledge.Store, p embed.Provider) error {
	model, err := store.Meta(ctx, knowledge.MetaEmbeddingModel)
	if err != nil {
		return err
	}
	if model != "" && model != p.ModelID() {
		return fmt.Errorf("index was built with %s, query embedder is %s", model, p.ModelID())
	}
	s, err := store.Meta(ctx, knowledge.MetaEmbeddingDim)
	if err != nil {
		return err
	}
	if s != "" {
		if d, err := strconv.Atoi(s); err == nil && d != p.Dim() {
			return fmt.Errorf("index has %d dimensions, query embedder has %d: %w", d, p.Dim(), embed.ErrDimensionMismatch)
		}
	}
	return nil
}

// Close releases the database.
func (s *Searcher) Close() error { return s.store.Close() }

// Store exposes the underlying database for lookups by id.
func (s *Searcher) Store() *knowledge.Store { return s.store }

// Index exposes the loaded vector index.
func (s *Searcher) Index() *hnsw.Index { return s.index }

// Search dispatches to the strategy named by mode.
func (s *Searcher) Search(ctx context.Context, mode Mode, opts knowledge.QueryOptions) ([]Hit, error) {
	switch mode {
	case ModeSemantic:
		return s.Semantic(ctx, opts)
	case ModeKeyword:
		return s.Keyword(ctx, opts)
	case ModeHybrid, "":
		return s.Hybrid(ctx, opts)
	}
	return nil, fmt.Errorf("unknown search mode %q", mode)
}

// Semantic embeds opts.Query, finds its nearest vectors and joins them to
// entries. The score is the cosine similarity (1 - distance). Filters are
// applied after the join, so the index is asked for overFetch times more
// neighbours when any filter is set.
func (s *Searcher) Semantic(ctx context.Context, opts knowledge.QueryOptions) ([]Hit, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, errors.New("semantic search needs query text")
	}
	if s.embedder == nil || s.index == nil {
		return nil, errors.New("semantic search needs an embedder and a vector index")
	}
	k := limit(opts)

	vecs, err := s.embedder.Embed(ctx, []string{opts.Query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}

	fetch := k
	if opts.Filtered() {
		fetch = k * overFetch
	}
	neighbours, err := s.index.Search(vecs[0], fetch)
	if errors.Is(err, hnsw.ErrEmptyIndex) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rowIDs := make([]int64, len(neighbours))
	for i, n := range neighbours {
		rowIDs[i] = int64(n.Label)
	}
	entries, err := s.store.EntriesByRowID(ctx, rowIDs)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, k)
	for _, n := range neighbours {
		e, ok := entries[int64(n.Label)]
		if !ok || !opts.Matches(e) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: 1 - float64(n.Distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Keyword runs an FTS5 search over title, content and tags. The score is
// the negated bm25 rank.
func (s *Searcher) Keyword(ctx context.Context, opts knowledge.QueryOptions) ([]Hit, error) {
	expr := knowledge.MatchExpr(opts.Query)
	if expr == "" {
		return nil, errors.New("keyword search needs query text")
	}
	q := opts
	q.Query = expr
	q.MaxResults = limit(opts)

	results, err := s.store.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{Entry: r.Entry, Score: -r.Rank}
	}
	return hits, nil
}

// Hybrid runs semantic and keyword search concurrently and fuses the two
// rankings: each entry scores the sum of 1/(60+rank) over the lists it
// appears in. The keyword leg is skipped when the query has no searchable
// terms. A failing leg is dropped; Hybrid errors only when no leg succeeds.
func (s *Searcher) Hybrid(ctx context.Context, opts knowledge.QueryOptions) ([]Hit, error) {
	k := limit(opts)
	sub := opts
	sub.MaxResults = k * 2

	type listResult struct {
		hits []Hit
		err  error
	}
	var (
		wg                sync.WaitGroup
		semantic, keyword listResult
	)
	withKeyword := knowledge.MatchExpr(opts.Query) != ""
	wg.Add(1)
	go func() {
		defer wg.Done()
		semantic.hits, semantic.err = s.Semantic(ctx, sub)
	}()
	if withKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keyword.hits, keyword.err = s.Keyword(ctx, sub)
		}()
	}
	wg.Wait()

	switch {
	case !withKeyword && semantic.err != nil:
		return nil, semantic.err
	case semantic.err != nil && keyword.err != nil:
		return nil, errors.Join(semantic.err, keyword.err)
	}
	var lists [][]Hit
	if semantic.err == nil {
		lists = append(lists, semantic.hits)
	}
	if withKeyword && keyword.err == nil {
		lists = append(lists, keyword.hits)
	}
	return Fuse(k, lists...), nil
}

// Fuse merges ranked lists with reciprocal rank fusion and returns the top
// k. Ties are broken by rowid for a stable order.
func Fuse(k int, lists ...[]Hit) []Hit {
	scores := make(map[int64]float64)
	entries := make(map[int64]types.Entry)
	for _, list := range lists {
		for rank, h := range list {
			scores[h.RowID] += 1.0 / float64(rrfK+rank+1)
			entries[h.RowID] = h.Entry
		}
	}

	fused := make([]Hit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Hit{Entry: entries[id], Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].RowID < fused[j].RowID
	})
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

func limit(opts knowledge.QueryOptions) int {
	if opts.MaxResults > 0 {
		return opts.MaxResults
	}
	return DefaultK
}
