// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/metastore"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/sparse"
	"github.com/airweave/airweave-go/pkg/telemetry"
	"github.com/airweave/airweave-go/pkg/tokens"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

// Service answers search requests against org-scoped collections. It owns
// collection resolution, quota admission, pipeline assembly, and payload
// stripping at the external boundary.
type Service struct {
	collections metastore.CollectionStore
	store       vectorstore.Store
	embedder    embeddings.Provider
	sparse      sparse.Encoder
	llm         llm.Provider
	counter     tokens.Counter
	quota       *quota.Guard
	log         *slog.Logger
}

// ServiceConfig wires a search service. Collections, Store and Embedder are
// required; LLM is optional and disables expansion, interpretation, rerank
// and answer generation when absent.
type ServiceConfig struct {
	Collections metastore.CollectionStore
	Store       vectorstore.Store
	Embedder    embeddings.Provider
	Sparse      sparse.Encoder
	LLM         llm.Provider
	Counter     tokens.Counter
	Quota       *quota.Guard
	Logger      *slog.Logger
}

// NewService validates the wiring and builds a service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Collections == nil {
		return nil, fmt.Errorf("collection store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Counter == nil {
		cfg.Counter = tokens.NewCounter(tokens.DefaultEncoding)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		collections: cfg.Collections,
		store:       cfg.Store,
		embedder:    cfg.Embedder,
		sparse:      cfg.Sparse,
		llm:         cfg.LLM,
		counter:     cfg.Counter,
		quota:       cfg.Quota,
		log:         cfg.Logger,
	}, nil
}

// Search runs one query against the collection identified by its readable id
// within the caller's organization. Results come back with internal payload
// fields stripped.
func (s *Service) Search(ctx context.Context, orgID uuid.UUID, readableID, query string, opts Options) (*Response, error) {
	started := time.Now()
	resp, err := s.search(ctx, orgID, readableID, query, opts)

	status := "error"
	if resp != nil {
		status = string(resp.Status)
	}
	telemetry.SearchDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return resp, err
}

func (s *Service) search(ctx context.Context, orgID uuid.UUID, readableID, query string, opts Options) (*Response, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrValidation)
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	coll, err := s.collections.GetByReadableID(ctx, orgID, readableID)
	if err != nil {
		return nil, fmt.Errorf("resolving collection %q: %w", readableID, err)
	}

	if s.quota != nil {
		if err := s.quota.Allowed(ctx, orgID, core.ActionQueries, 1); err != nil {
			return nil, err
		}
	}

	pipeline, err := s.assemble()
	if err != nil {
		return nil, err
	}

	state := &State{
		CollectionID: coll.ID,
		Query:        query,
		Options:      opts,
		Status:       StatusSuccess,
	}
	if err := pipeline.Run(ctx, state); err != nil {
		return nil, err
	}

	if s.quota != nil {
		if err := s.quota.Increment(ctx, orgID, core.ActionQueries, 1); err != nil {
			s.log.Warn("recording query usage failed", "org_id", orgID.String(), "error", err)
		}
	}

	return s.respond(state), nil
}

// assemble builds the pipeline for one request. Every stage is always
// present; optional ones no-op based on the request options, which keeps the
// dependency graph static.
func (s *Service) assemble() (*Pipeline, error) {
	return NewPipeline(s.log,
		&expansion{llm: s.llm, log: s.log},
		&interpretation{llm: s.llm, log: s.log},
		filterMerge{},
		&embedding{dense: s.embedder, sparse: s.sparse},
		&retrieval{store: s.store},
		&rerank{llm: s.llm, log: s.log},
		&completion{llm: s.llm, counter: s.counter, log: s.log},
	)
}

// respond windows the ranking to the caller's page and strips internal
// payload fields.
func (s *Service) respond(state *State) *Response {
	resp := &Response{
		Status:     state.Status,
		Completion: state.Completion,
		Results:    []Result{},
	}
	if state.Status != StatusSuccess {
		if resp.Completion == "" {
			switch state.Status {
			case StatusNoResults:
				resp.Completion = noResultsMessage
			case StatusNoRelevantResults:
				resp.Completion = noRelevantResultsMessage
			}
		}
		return resp
	}

	results := state.Results
	if state.Options.Offset >= len(results) {
		results = nil
	} else {
		results = results[state.Options.Offset:]
	}
	if len(results) > state.Options.Limit {
		results = results[:state.Options.Limit]
	}

	for _, r := range results {
		resp.Results = append(resp.Results, Result{
			ID:       r.ID,
			EntityID: r.EntityID,
			Score:    r.Score,
			Payload:  vectorstore.StripPayload(r.Payload),
		})
	}
	return resp
}
