// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/airweave/airweave-go/pkg/logger"
)

// OpenAIBackend generates embeddings through any OpenAI-compatible API
// (OpenAI, vLLM, Ollama's v1 endpoint, Azure-compatible gateways).
type OpenAIBackend struct {
	llm       *openai.LLM
	model     string
	dimension int
}

// NewOpenAIBackend creates an OpenAI-compatible backend. baseURL may be
// empty for api.openai.com.
func NewOpenAIBackend(baseURL, apiKey, model string, dimension int) (*OpenAIBackend, error) {
	opts := []openai.Option{
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	logger.Infof("Initialized OpenAI-compatible embedding backend (model: %s)", model)
	return &OpenAIBackend{llm: llm, model: model, dimension: dimension}, nil
}

// Embed generates an embedding for a single text.
func (o *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (o *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := o.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimension returns the embedding dimension.
func (o *OpenAIBackend) Dimension() int {
	return o.dimension
}

// Close closes the backend.
func (*OpenAIBackend) Close() error {
	return nil
}
