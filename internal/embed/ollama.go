// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// Ollama talks to an Ollama server's /api/embed endpoint.
type Ollama struct {
	client    *http.Client
	host      string
	model     string
	userAgent string
	dim       int
}

// NewOllama returns an Ollama provider. cfg is expected to have defaults
// applied.
func NewOllama(client *http.Client, cfg types.EmbeddingConfig) *Ollama {
	return &Ollama{
		client:    client,
		host:      strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		userAgent: cfg.UserAgent,
		dim:       cfg.Dimensions,
	}
}

func (o *Ollama) ModelID() string { return o.model }
func (o *Ollama) Dim() int        { return o.dim }

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends texts as one batch.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaResponse
	err := postJSON(ctx, o.client, o.host+"/api/embed", "", o.userAgent,
		ollamaRequest{Model: o.model, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	if err := checkDims(resp.Embeddings, o.dim); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
