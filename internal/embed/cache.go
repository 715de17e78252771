// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

var bucketVectors = []byte("embeddings")

// Cache stores vectors in a bbolt file keyed by model and text.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens or creates the cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing embedding cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up texts and returns a slice aligned with texts; entries are
// nil for misses.
func (c *Cache) Get(model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for i, t := range texts {
			if v := b.Get(cacheKey(model, t)); v != nil {
				out[i] = decodeVector(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading embedding cache: %w", err)
	}
	return out, nil
}

// Put stores vecs[i] for texts[i] in one transaction.
func (c *Cache) Put(model string, texts []string, vecs [][]float32) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for i, t := range texts {
			if err := b.Put(cacheKey(model, t), encodeVector(vecs[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}

// Len returns the number of cached vectors.
func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return n, err
}

func cacheKey(model, text string) []byte {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum(nil)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector copies out of bbolt-owned memory, which is only valid for
// the life of the transaction.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// CachedProvider serves vectors from a Cache and embeds only the misses.
type CachedProvider struct {
	Provider
	cache *Cache

	hits, misses atomic.Int64
}

// Cached wraps p with c.
func Cached(p Provider, c *Cache) *CachedProvider {
	return &CachedProvider{Provider: p, cache: c}
}

// Embed returns cached vectors where present and embeds the rest through
// the wrapped provider, storing them for next time.
func (cp *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := cp.ModelID()
	out, err := cp.cache.Get(model, texts)
	if err != nil {
		return nil, err
	}

	var (
		missIdx   []int
		missTexts []string
	)
	for i, v := range out {
		if v == nil || len(v) != cp.Dim() {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	cp.hits.Add(int64(len(texts) - len(missIdx)))
	cp.misses.Add(int64(len(missIdx)))
	if len(missIdx) == 0 {
		return out, nil
	}

	vecs, err := cp.Provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}
	if err := cp.cache.Put(model, missTexts, vecs); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	return out, nil
}

// Stats returns the cache hit and miss counts so far.
func (cp *CachedProvider) Stats() (hits, misses int) {
	return int(cp.hits.Load()), int(cp.misses.Load())
}
