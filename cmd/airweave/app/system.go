// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/collections"
	"github.com/airweave/airweave-go/pkg/config"
	"github.com/airweave/airweave-go/pkg/connections"
	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/engine"
	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/metastore"
	metasqlite "github.com/airweave/airweave-go/pkg/metastore/sqlite"
	"github.com/airweave/airweave-go/pkg/pubsub"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/search"
	"github.com/airweave/airweave-go/pkg/sources"
	"github.com/airweave/airweave-go/pkg/sparse"
	"github.com/airweave/airweave-go/pkg/syncs"
	"github.com/airweave/airweave-go/pkg/tokens"
	"github.com/airweave/airweave-go/pkg/transform"
	"github.com/airweave/airweave-go/pkg/vectorstore/sqlitevec"

	// Connector packages register themselves with the default source registry.
	_ "github.com/airweave/airweave-go/pkg/sources/github"
	_ "github.com/airweave/airweave-go/pkg/sources/postgres"
)

const shutdownTimeout = 15 * time.Second

// system is the fully wired process: stores, capabilities, engine and the
// services the commands drive.
type system struct {
	cfg     *config.Config
	db      *metasqlite.DB
	stores  metastore.Stores
	vectors *sqlitevec.Store
	bus     pubsub.Bus
	guard   *quota.Guard
	runtime *engine.InProcessRuntime

	collections *collections.Service
	connections *connections.Service
	syncs       *syncs.Service
	search      *search.Service
}

// buildSystem opens the stores and wires every service from the
// configuration. The caller must Close the result.
func buildSystem(ctx context.Context, cfg *config.Config) (*system, error) {
	db, err := metasqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	stores := metasqlite.NewStores(db)

	vectors, err := sqlitevec.New(cfg.Database.VectorPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	embedder, err := embeddings.NewManager(&embeddings.Config{
		BackendType: cfg.Embedding.Backend,
		BaseURL:     cfg.Embedding.BaseURL,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		Dimension:   cfg.Embedding.Dimension,
		EnableCache: true,
	})
	if err != nil {
		vectors.Close()
		db.Close()
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	provider, err := llmProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing llm provider: %w", err)
	}

	bus, err := buildBus(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing progress bus: %w", err)
	}

	box, err := credentialBox(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing credential encryption: %w", err)
	}

	guard := quota.New(stores.Billing)
	counter := tokens.NewCounter(tokens.DefaultEncoding)
	bm25 := sparse.NewBM25Encoder()
	providers := auth.NewProviderRegistry()

	engineCfg := engine.Config{
		Stores:       stores,
		Vectors:      vectors,
		Embedder:     transform.NewEmbedder(embedder, bm25),
		Quota:        guard,
		Bus:          bus,
		Sources:      sources.DefaultRegistry,
		Box:          box,
		Providers:    providers,
		FileChunker:  transform.NewFileChunker(counter, transform.FileChunkerConfig{}),
		CodeChunker:  transform.NewCodeChunker(counter, 0),
		FieldChunker: transform.NewFieldChunker(counter, 0, -1),
		Workers:      cfg.Engine.Workers,
		BatchSize:    cfg.Engine.BatchSize,
		Logger:       logger.Get(),
	}
	if provider != nil {
		engineCfg.CodeSummarizer = transform.NewCodeSummarizer(provider)
	}
	eng, err := engine.New(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing sync engine: %w", err)
	}

	runtime := engine.NewInProcessRuntime(eng, cfg.Engine.MaxConcurrency)

	connSvc, err := connections.New(connections.Config{
		Stores:     &stores,
		Registry:   sources.DefaultRegistry,
		Providers:  providers,
		Box:        box,
		Quota:      guard,
		SigningKey: []byte(cfg.Auth.SigningKey),
		Logger:     logger.Get(),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing connection service: %w", err)
	}

	searchSvc, err := search.NewService(search.ServiceConfig{
		Collections: stores.Collections,
		Store:       vectors,
		Embedder:    embedder,
		Sparse:      bm25,
		LLM:         provider,
		Counter:     counter,
		Quota:       guard,
		Logger:      logger.Get(),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing search service: %w", err)
	}

	return &system{
		cfg:         cfg,
		db:          db,
		stores:      stores,
		vectors:     vectors,
		bus:         bus,
		guard:       guard,
		runtime:     runtime,
		collections: collections.New(stores.Collections, stores.Connections, vectors, embedder.Dimension(), logger.Get()),
		connections: connSvc,
		syncs:       syncs.New(&stores, runtime, bus, logger.Get()),
		search:      searchSvc,
	}, nil
}

// Close drains running jobs, flushes usage counters and closes the stores.
func (s *system) Close() {
	s.runtime.Drain()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.guard.Shutdown(flushCtx); err != nil {
		logger.Warnf("Flushing usage counters: %v", err)
	}
	if err := s.bus.Close(); err != nil {
		logger.Warnf("Closing progress bus: %v", err)
	}
	if err := s.vectors.Close(); err != nil {
		logger.Warnf("Closing vector store: %v", err)
	}
	if err := s.db.Close(); err != nil {
		logger.Warnf("Closing metadata store: %v", err)
	}
}

// llmProvider builds the configured completion provider, or nil when none
// is configured. Search degrades to retrieval-only without one.
func llmProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildBus selects the progress bus backend. Redis fans updates out across
// processes; the in-memory bus serves a single process.
func buildBus(ctx context.Context, cfg *config.Config) (pubsub.Bus, error) {
	if cfg.Redis.Address == "" {
		return pubsub.NewMemoryBus(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return pubsub.NewRedisBus(ctx, client)
}

// credentialBox opens the configured encryption key. Without one a random
// per-process key is generated; sealed credentials then do not survive a
// restart, which is acceptable for development only.
func credentialBox(cfg *config.Config) (*auth.Box, error) {
	if cfg.Auth.EncryptionKey != "" {
		return auth.NewBoxFromBase64(cfg.Auth.EncryptionKey)
	}
	logger.Warnf("No auth.encryption_key configured; using an ephemeral key, stored credentials will not survive a restart")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return auth.NewBox(key)
}
