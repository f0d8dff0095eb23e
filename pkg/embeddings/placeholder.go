// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"context"
	"math"
)

// PlaceholderBackend generates deterministic hash-based embeddings. Used in
// tests and as the degradation target when a real backend fails.
type PlaceholderBackend struct {
	dimension int
}

// NewPlaceholderBackend returns a placeholder backend of the given dimension.
func NewPlaceholderBackend(dimension int) *PlaceholderBackend {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &PlaceholderBackend{dimension: dimension}
}

// Embed generates a deterministic embedding for the given text.
func (p *PlaceholderBackend) Embed(_ context.Context, text string) ([]float32, error) {
	return p.generate(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *PlaceholderBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = p.generate(text)
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension.
func (p *PlaceholderBackend) Dimension() int {
	return p.dimension
}

// Close closes the backend.
func (*PlaceholderBackend) Close() error {
	return nil
}

func (p *PlaceholderBackend) generate(text string) []float32 {
	embedding := make([]float32, p.dimension)

	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000000
	}

	for i := range embedding {
		hash = (hash*1103515245 + 12345) % 1000000
		embedding[i] = float32(hash) / 1000000.0
	}

	// L2 normalize so cosine similarity behaves like the real backends.
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= inv
		}
	}

	return embedding
}
