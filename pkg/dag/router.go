// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package dag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

// Transformer consumes one entity and produces zero or more. Implementations
// must be idempotent with respect to entity_id and chunk_index: re-running on
// the same input yields the same split boundaries.
type Transformer interface {
	Name() string
	Apply(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error)
}

// routeKey addresses one route-table decision.
type routeKey struct {
	producer uuid.UUID
	defID    uuid.UUID
}

// maxRouteDepth bounds transformer recursion. Validation guarantees the DAG
// is acyclic, so hitting this means a transformer keeps producing entities
// that route back into transformers.
const maxRouteDepth = 10

// Router dispatches entities through the DAG at stream time. Stateless once
// the transformer cache is warmed; safe for concurrent use from multiple
// workers.
type Router struct {
	dag      *Dag
	registry *entity.Registry
	log      *slog.Logger

	// routes maps (producer node, entity definition) to the consuming
	// transformer node. uuid.Nil means "send to destination".
	routes map[routeKey]uuid.UUID

	// transformers is the pre-warmed cache keyed by node id.
	transformers map[uuid.UUID]Transformer

	// Well-known transformers applied before route-table dispatch.
	fileChunker    Transformer
	codeChunker    Transformer
	codeSummarizer Transformer
	fieldChunker   Transformer
}

// RouterConfig wires a Router.
type RouterConfig struct {
	Dag      *Dag
	Registry *entity.Registry
	Logger   *slog.Logger

	// Transformers maps transformer names to implementations; the router
	// warms its node cache from it. A transformer node whose name is absent
	// here fails routing with an invariant error at stream time.
	Transformers map[string]Transformer

	FileChunker    Transformer
	CodeChunker    Transformer
	CodeSummarizer Transformer
	FieldChunker   Transformer
}

// NewRouter validates the DAG, precomputes the route table, and warms the
// transformer cache.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Dag == nil {
		return nil, fmt.Errorf("%w: router requires a dag", core.ErrValidation)
	}
	if err := cfg.Dag.Validate(); err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		cfg.Registry = entity.DefaultRegistry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Router{
		dag:            cfg.Dag,
		registry:       cfg.Registry,
		log:            cfg.Logger,
		routes:         make(map[routeKey]uuid.UUID),
		transformers:   make(map[uuid.UUID]Transformer),
		fileChunker:    cfg.FileChunker,
		codeChunker:    cfg.CodeChunker,
		codeSummarizer: cfg.CodeSummarizer,
		fieldChunker:   cfg.FieldChunker,
	}

	for _, n := range cfg.Dag.Nodes {
		if n.Type != NodeEntity {
			continue
		}
		producerEdge := cfg.Dag.IncomingEdges(n.ID)[0]
		key := routeKey{producer: producerEdge.FromNodeID, defID: n.DefinitionID}

		consumer := uuid.Nil
		for _, out := range cfg.Dag.OutgoingEdges(n.ID) {
			to, _ := cfg.Dag.nodeByID(out.ToNodeID)
			if to.Type == NodeTransformer {
				consumer = to.ID
				if t, ok := cfg.Transformers[to.TransformerName]; ok {
					r.transformers[to.ID] = t
				}
			}
		}
		r.routes[key] = consumer
	}

	return r, nil
}

// Process routes one produced entity and returns the terminal entities bound
// for the destination. Transformer failures bubble as pipeline errors; the
// engine decides whether they fail the entity or the job.
func (r *Router) Process(ctx context.Context, producerID uuid.UUID, e *entity.Entity) ([]*entity.Entity, error) {
	return r.process(ctx, producerID, e, 0)
}

func (r *Router) process(ctx context.Context, producerID uuid.UUID, e *entity.Entity, depth int) ([]*entity.Entity, error) {
	if depth > maxRouteDepth {
		return nil, fmt.Errorf("%w: route depth exceeded for entity %s", core.ErrInvariant, e.EntityID)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}

	switch e.Kind {
	case entity.KindCodeFile:
		return r.processCodeFile(ctx, e)
	case entity.KindFile:
		return r.processFile(ctx, producerID, e, depth)
	case entity.KindChunk:
		if r.fieldChunker != nil {
			splits, err := r.fieldChunker.Apply(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("field chunker: %w", err)
			}
			if len(splits) > 1 {
				return splits, nil
			}
			if len(splits) == 1 {
				e = splits[0]
			}
		}
	}

	return r.routeByTable(ctx, producerID, e, depth)
}

// processCodeFile applies code-aware chunking and, when configured, the code
// summarizer to each produced chunk.
func (r *Router) processCodeFile(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if r.codeChunker == nil {
		return nil, fmt.Errorf("%w: code file %s but no code chunker configured", core.ErrInvariant, e.EntityID)
	}
	chunks, err := r.codeChunker.Apply(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("code chunker: %w", err)
	}
	if r.codeSummarizer == nil {
		return chunks, nil
	}

	out := make([]*entity.Entity, 0, len(chunks))
	for _, c := range chunks {
		summarized, err := r.codeSummarizer.Apply(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("code summarizer: %w", err)
		}
		out = append(out, summarized...)
	}
	return out, nil
}

// processFile applies the file chunker and routes each produced chunk, so
// oversized chunks still pass through field chunking.
func (r *Router) processFile(ctx context.Context, producerID uuid.UUID, e *entity.Entity, depth int) ([]*entity.Entity, error) {
	if r.fileChunker == nil {
		return nil, fmt.Errorf("%w: file entity %s but no file chunker configured", core.ErrInvariant, e.EntityID)
	}
	chunks, err := r.fileChunker.Apply(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("file chunker: %w", err)
	}

	var out []*entity.Entity
	for _, c := range chunks {
		routed, err := r.process(ctx, producerID, c, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, routed...)
	}
	return out, nil
}

// routeByTable resolves the entity definition and consults the route table.
// A missing route is permissive: the entity goes to the destination with a
// warning rather than failing the stream.
func (r *Router) routeByTable(ctx context.Context, producerID uuid.UUID, e *entity.Entity, depth int) ([]*entity.Entity, error) {
	defID, ok := r.registry.ResolveDefinitionID(e)
	if !ok {
		r.log.Warn("no entity definition resolved, sending to destination",
			"entity_id", e.EntityID, "kind", string(e.Kind))
		return []*entity.Entity{e}, nil
	}

	consumer, found := r.routes[routeKey{producer: producerID, defID: defID}]
	if !found {
		r.log.Warn("no route for entity, sending to destination",
			"entity_id", e.EntityID, "definition_id", defID.String())
		return []*entity.Entity{e}, nil
	}
	if consumer == uuid.Nil {
		return []*entity.Entity{e}, nil
	}

	t, ok := r.transformers[consumer]
	if !ok {
		return nil, fmt.Errorf("%w: transformer node %s not in cache", core.ErrInvariant, consumer)
	}

	produced, err := t.Apply(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("transformer %s: %w", t.Name(), err)
	}

	var out []*entity.Entity
	for _, p := range produced {
		routed, err := r.process(ctx, consumer, p, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, routed...)
	}
	return out, nil
}
