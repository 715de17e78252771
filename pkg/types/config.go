// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "rag-knowledge/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ChunkConfig controls how extracted text is split into entries. All sizes
// are measured in characters (runes).
type ChunkConfig struct {
	// Size is the target chunk size (default 512).
	Size int `json:"size" yaml:"size"`

	// Overlap is the number of trailing characters of a chunk repeated at
	// the start of the next one (default 64, negative disables overlap).
	Overlap int `json:"overlap" yaml:"overlap"`

	// MinSize is the smallest chunk that is kept (default 100).
	MinSize int `json:"min_size" yaml:"min_size"`
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c ChunkConfig) WithDefaults() ChunkConfig {
	if c.Size <= 0 {
		c.Size = 512
	}
	if c.Overlap == 0 {
		c.Overlap = 64
	}
	if c.MinSize <= 0 {
		c.MinSize = 100
	}
	return c
}

// EmbeddingProvider identifies the embeddings API flavour.
type EmbeddingProvider string

const (
	ProviderOpenAI EmbeddingProvider = "openai"
	ProviderOllama EmbeddingProvider = "ollama"
)

// EmbeddingConfig holds settings for the embedding stage.
type EmbeddingConfig struct {
	HTTPConfig `yaml:",inline"`

	// Provider selects the API flavour: openai (any compatible server) or ollama.
	Provider EmbeddingProvider `json:"provider" yaml:"provider"`

	// Model is the embedding model identifier (default "all-MiniLM-L6-v2").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the API root, e.g. "http://localhost:8080/v1" or
	// "http://localhost:11434".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey authenticates against the API. Optional for local servers.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Dimensions is the expected vector length (default 384).
	Dimensions int `json:"dimensions" yaml:"dimensions"`

	// BatchSize is the number of texts sent per request (default 100).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Workers is the number of batches embedded concurrently (default 1).
	Workers int `json:"workers" yaml:"workers"`

	// CachePath is the bbolt file used to cache embeddings between builds.
	// Empty disables the cache.
	CachePath string `json:"cache_path,omitempty" yaml:"cache_path,omitempty"`
}

// Embedding defaults match the all-MiniLM-L6-v2 sentence embedding model.
const (
	DefaultEmbeddingModel = "all-MiniLM-L6-v2"
	DefaultEmbeddingDim   = 384
	DefaultBatchSize      = 100
)

// WithDefaults returns c with zero fields replaced by their defaults.
func (c EmbeddingConfig) WithDefaults() EmbeddingConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultEmbeddingModel
	}
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultEmbeddingDim
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// IndexConfig holds HNSW construction and search parameters.
type IndexConfig struct {
	// M is the maximum number of links per node above layer 0 (default 16).
	M int `json:"m" yaml:"m"`

	// EfConstruction is the candidate list size during insert (default 200).
	EfConstruction int `json:"ef_construction" yaml:"ef_construction"`

	// EfSearch is the candidate list size during search (default 50).
	EfSearch int `json:"ef_search" yaml:"ef_search"`

	// Seed makes level assignment reproducible (default 100).
	Seed int64 `json:"seed" yaml:"seed"`
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c IndexConfig) WithDefaults() IndexConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.Seed == 0 {
		c.Seed = 100
	}
	return c
}

// Validate reports parameters the graph cannot be built with. Zero values
// are left to WithDefaults.
func (c IndexConfig) Validate() error {
	if c.M != 0 && c.M < 2 {
		return fmt.Errorf("index m must be at least 2, got %d", c.M)
	}
	return nil
}

// PDFBackend selects how text is pulled out of PDFs.
type PDFBackend string

const (
	PDFHost      PDFBackend = "host"
	PDFContainer PDFBackend = "container"
)

// PDFConfig holds settings for PDF text extraction.
type PDFConfig struct {
	// Backend is host (poppler tools on PATH) or container (poppler in a
	// docker or podman image).
	Backend PDFBackend `json:"backend" yaml:"backend"`

	// Image is the container image providing pdftotext and pdfinfo.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Runtime pins the container backend to docker or podman. Empty picks
	// the first one available.
	Runtime string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// BuildConfig groups everything the index build needs.
type BuildConfig struct {
	// SourcesDir holds one subdirectory per category (default "sources").
	SourcesDir string `json:"sources_dir" yaml:"sources_dir"`

	// OutputDir receives knowledge.db and vectors.idx (default "generated").
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// LockTimeout bounds the wait for the output directory lock (default 5s).
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout"`

	Chunk     ChunkConfig     `json:"chunk" yaml:"chunk"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Index     IndexConfig     `json:"index" yaml:"index"`
	PDF       PDFConfig       `json:"pdf" yaml:"pdf"`
}

// WithDefaults returns c with zero fields, including nested configs,
// replaced by their defaults.
func (c BuildConfig) WithDefaults() BuildConfig {
	if c.SourcesDir == "" {
		c.SourcesDir = "sources"
	}
	if c.OutputDir == "" {
		c.OutputDir = "generated"
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.PDF.Backend == "" {
		c.PDF.Backend = PDFHost
	}
	c.Chunk = c.Chunk.WithDefaults()
	c.Embedding = c.Embedding.WithDefaults()
	c.Index = c.Index.WithDefaults()
	return c
}

// FetchConfig holds settings for downloading release artifacts.
type FetchConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the release location holding manifest.json and the files
	// it lists.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// OutputDir receives the downloaded files.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Token is sent as a bearer token, for releases behind authentication.
	Token string `json:"-" yaml:"-"`
}
