// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package embeddings provides dense-vector embedding generation with
// pluggable backends: any OpenAI-compatible API, a local Ollama daemon, or a
// deterministic placeholder for tests and offline development.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/airweave/airweave-go/pkg/logger"
)

const (
	// BackendTypeOpenAI is any OpenAI-compatible embeddings API.
	BackendTypeOpenAI = "openai"
	// BackendTypeOllama is the Ollama native API.
	BackendTypeOllama = "ollama"
	// BackendTypePlaceholder is the hash-based backend for testing.
	BackendTypePlaceholder = "placeholder"

	defaultDimension    = 384
	defaultMaxCacheSize = 1000
)

// Provider is the embedding capability consumed by the sync engine and the
// search pipeline. The dimension is fixed per provider.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Backend is one concrete embedding implementation behind the Manager.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Config selects and configures an embedding backend.
type Config struct {
	// BackendType is one of openai, ollama, placeholder.
	BackendType string

	// BaseURL of the embedding service.
	// - openai: https://api.openai.com/v1 or any compatible endpoint
	// - ollama: http://localhost:11434
	BaseURL string

	// APIKey authenticates openai-compatible backends.
	APIKey string

	// Model is the model name ("text-embedding-3-small", "nomic-embed-text").
	Model string

	// Dimension of the produced vectors. Defaults to 384.
	Dimension int

	EnableCache  bool
	MaxCacheSize int
}

// Manager wraps a Backend with caching and placeholder fallback so a flaky
// embedding service degrades search quality instead of failing syncs.
type Manager struct {
	config  *Config
	backend Backend
	cache   *embedCache
	mu      sync.Mutex
}

// NewManager creates an embedding manager for the configured backend.
func NewManager(config *Config) (*Manager, error) {
	if config.Dimension == 0 {
		config.Dimension = defaultDimension
	}
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = defaultMaxCacheSize
	}
	if config.BackendType == "" {
		config.BackendType = BackendTypePlaceholder
	}

	var backend Backend
	var err error

	switch config.BackendType {
	case BackendTypeOllama:
		backend, err = NewOllamaBackend(config.BaseURL, config.Model)
		if err != nil {
			logger.Warnf("Failed to initialize Ollama backend: %v", err)
			logger.Info("Falling back to placeholder embeddings. To use Ollama: ollama serve && ollama pull nomic-embed-text")
			backend = &PlaceholderBackend{dimension: config.Dimension}
		}

	case BackendTypeOpenAI:
		if config.Model == "" {
			return nil, fmt.Errorf("model is required for %s backend", config.BackendType)
		}
		backend, err = NewOpenAIBackend(config.BaseURL, config.APIKey, config.Model, config.Dimension)
		if err != nil {
			logger.Warnf("Failed to initialize %s backend: %v", config.BackendType, err)
			logger.Info("Falling back to placeholder embeddings")
			backend = &PlaceholderBackend{dimension: config.Dimension}
		}

	case BackendTypePlaceholder:
		backend = &PlaceholderBackend{dimension: config.Dimension}

	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: openai, ollama, placeholder)", config.BackendType)
	}

	return newManagerWithBackend(config, backend), nil
}

func newManagerWithBackend(config *Config, backend Backend) *Manager {
	m := &Manager{config: config, backend: backend}
	if config.EnableCache {
		m.cache = newEmbedCache(config.MaxCacheSize)
	}
	return m
}

// Embed generates one embedding.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany generates embeddings for a batch of texts, one vector per text
// in input order.
func (m *Manager) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) == 1 && m.cache != nil {
		if cached := m.cache.Get(texts[0]); cached != nil {
			logger.Debugf("Embedding cache hit")
			return [][]float32{cached}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	vecs, err := m.backend.EmbedBatch(ctx, texts)
	if err != nil {
		if m.config.BackendType == BackendTypePlaceholder {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		logger.Warnf("%s backend failed: %v, falling back to placeholder", m.config.BackendType, err)
		placeholder := &PlaceholderBackend{dimension: m.config.Dimension}
		vecs, err = placeholder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(vecs), len(texts))
	}

	if len(texts) == 1 && m.cache != nil {
		m.cache.Put(texts[0], vecs[0])
	}

	logger.Debugf("Generated %d embeddings (dimension: %d)", len(vecs), m.backend.Dimension())
	return vecs, nil
}

// Dimension returns the embedding dimension.
func (m *Manager) Dimension() int {
	if m.backend != nil {
		return m.backend.Dimension()
	}
	return m.config.Dimension
}

// Close releases backend resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return m.backend.Close()
	}
	return nil
}
