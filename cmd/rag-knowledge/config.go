// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/embed"
	"github.com/waycore/rag-knowledge/internal/secrets"
	"github.com/waycore/rag-knowledge/pkg/types"
)

const (
	defaultUserAgent = "rag-knowledge/0.1"
	defaultTimeout   = 60 * time.Second
)

// Viper keys. Nested keys map to RAG_KNOWLEDGE_<SECTION>_<KEY> in the
// environment.
const (
	keySourcesDir  = "sources_dir"
	keyOutputDir   = "output_dir"
	keyLockTimeout = "lock_timeout"
	keyUserAgent   = "user_agent"

	keyChunkSize    = "chunk.size"
	keyChunkOverlap = "chunk.overlap"
	keyChunkMin     = "chunk.min_size"

	keyEmbedProvider = "embedding.provider"
	keyEmbedModel    = "embedding.model"
	keyEmbedBaseURL  = "embedding.base_url"
	keyEmbedAPIKey   = "embedding.api_key"
	keyEmbedDim      = "embedding.dimensions"
	keyEmbedBatch    = "embedding.batch_size"
	keyEmbedWorkers  = "embedding.workers"
	keyEmbedCache    = "embedding.cache_path"
	keyEmbedTimeout  = "embedding.timeout"

	keyIndexM      = "index.m"
	keyIndexEfC    = "index.ef_construction"
	keyIndexEf     = "index.ef_search"
	keyIndexSeed   = "index.seed"
	keyPDFBackend  = "pdf.backend"
	keyPDFImage    = "pdf.image"
	keyPDFRuntime  = "pdf.runtime"
	keyFetchURL    = "fetch.base_url"
	keyFetchToken  = "fetch.token"
	keyHTTPTimeout = "http.timeout"
)

func setDefaults() {
	viper.SetDefault(keySourcesDir, "sources")
	viper.SetDefault(keyOutputDir, "generated")
	viper.SetDefault(keyUserAgent, defaultUserAgent)
	viper.SetDefault(keyEmbedProvider, string(types.ProviderOpenAI))
	viper.SetDefault(keyEmbedModel, types.DefaultEmbeddingModel)
	viper.SetDefault(keyEmbedDim, types.DefaultEmbeddingDim)
	viper.SetDefault(keyEmbedBatch, types.DefaultBatchSize)
	viper.SetDefault(keyPDFBackend, string(types.PDFHost))
	viper.SetDefault(keyHTTPTimeout, defaultTimeout)
}

// bindFlags returns a PreRunE that ties command flags to viper keys, so
// the precedence is flag, then environment, then config file, then default.
// Binding happens when the command runs because several commands share a
// key through their own flags.
func bindFlags(keyToFlag map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for key, flag := range keyToFlag {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("binding flag --%s: %w", flag, err)
			}
		}
		return nil
	}
}

func embeddingConfig() types.EmbeddingConfig {
	return types.EmbeddingConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   viper.GetDuration(keyEmbedTimeout),
			UserAgent: viper.GetString(keyUserAgent),
		},
		Provider:   types.EmbeddingProvider(viper.GetString(keyEmbedProvider)),
		Model:      viper.GetString(keyEmbedModel),
		BaseURL:    viper.GetString(keyEmbedBaseURL),
		APIKey:     secrets.Fallback(viper.GetString(keyEmbedAPIKey), loadedSecrets, secrets.EmbeddingsAPIKey),
		Dimensions: viper.GetInt(keyEmbedDim),
		BatchSize:  viper.GetInt(keyEmbedBatch),
		Workers:    viper.GetInt(keyEmbedWorkers),
		CachePath:  viper.GetString(keyEmbedCache),
	}.WithDefaults()
}

func buildConfig() types.BuildConfig {
	return types.BuildConfig{
		SourcesDir:  viper.GetString(keySourcesDir),
		OutputDir:   viper.GetString(keyOutputDir),
		LockTimeout: viper.GetDuration(keyLockTimeout),
		Chunk: types.ChunkConfig{
			Size:    viper.GetInt(keyChunkSize),
			Overlap: viper.GetInt(keyChunkOverlap),
			MinSize: viper.GetInt(keyChunkMin),
		},
		Embedding: embeddingConfig(),
		Index: types.IndexConfig{
			M:              viper.GetInt(keyIndexM),
			EfConstruction: viper.GetInt(keyIndexEfC),
			EfSearch:       viper.GetInt(keyIndexEf),
			Seed:           viper.GetInt64(keyIndexSeed),
		},
		PDF: types.PDFConfig{
			Backend: types.PDFBackend(viper.GetString(keyPDFBackend)),
			Image:   viper.GetString(keyPDFImage),
			Runtime: viper.GetString(keyPDFRuntime),
		},
	}.WithDefaults()
}

func httpConfig() types.HTTPConfig {
	return types.HTTPConfig{
		Timeout:   viper.GetDuration(keyHTTPTimeout),
		UserAgent: viper.GetString(keyUserAgent),
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: httpConfig().Timeout}
}

// openEmbedder builds the configured provider, wrapped in the bbolt cache
// when a cache path is set. The returned func releases the cache.
func openEmbedder(cfg types.EmbeddingConfig) (embed.Provider, func(), error) {
	p, err := embed.New(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	if cfg.CachePath == "" {
		return p, func() {}, nil
	}
	cache, err := embed.OpenCache(cfg.CachePath)
	if err != nil {
		return nil, func() {}, err
	}
	return embed.Cached(p, cache), func() {
		if err := cache.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing embedding cache: %v\n", err)
		}
	}, nil
}

// optionalEmbedder is openEmbedder for commands that can run without one.
// It returns a nil provider when no embeddings endpoint is configured.
func optionalEmbedder() (embed.Provider, func(), error) {
	cfg := embeddingConfig()
	if cfg.BaseURL == "" {
		return nil, func() {}, nil
	}
	return openEmbedder(cfg)
}
