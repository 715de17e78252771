// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns text into fixed-length vectors through an HTTP
// embeddings API. Two API flavours are supported: OpenAI-compatible
// (/embeddings, served by OpenAI, llama.cpp, vLLM, text-embeddings-inference
// and others) and Ollama (/api/embed). Results can be cached in a bbolt
// file so rebuilds only embed new or changed text.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/waycore/rag-knowledge/internal/httputil"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider embeds batches of text.
type Provider interface {
	// ModelID names the model; it is recorded in the build metadata and
	// keys the cache.
	ModelID() string

	// Dim is the expected vector length.
	Dim() int

	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New returns the provider selected by cfg.
func New(cfg types.EmbeddingConfig) (Provider, error) {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base_url is not configured")
	}
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case types.ProviderOpenAI:
		return NewOpenAI(client, cfg), nil
	case types.ProviderOllama:
		return NewOllama(client, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q: use openai or ollama", cfg.Provider)
	}
}

// checkDims verifies every vector has length dim.
func checkDims(vecs [][]float32, dim int) error {
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), dim, ErrDimensionMismatch)
		}
	}
	return nil
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url, apiKey, userAgent string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embeddings API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing embeddings response: %w", err)
	}
	return nil
}
