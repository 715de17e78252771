// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// OpenAI talks to any server implementing POST {base}/embeddings.
type OpenAI struct {
	client    *http.Client
	baseURL   string
	model     string
	apiKey    string
	userAgent string
	dim       int
}

// NewOpenAI returns an OpenAI-compatible provider. cfg is expected to have
// defaults applied.
func NewOpenAI(client *http.Client, cfg types.EmbeddingConfig) *OpenAI {
	return &OpenAI{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		dim:       cfg.Dimensions,
	}
}

func (o *OpenAI) ModelID() string { return o.model }
func (o *OpenAI) Dim() int        { return o.dim }

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends texts as one batch. The response may list vectors in any
// order; they are placed by their index field.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openAIResponse
	err := postJSON(ctx, o.client, o.baseURL+"/embeddings", o.apiKey, o.userAgent,
		openAIRequest{Model: o.model, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("embeddings API returned invalid index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	if err := checkDims(out, o.dim); err != nil {
		return nil, err
	}
	return out, nil
}
