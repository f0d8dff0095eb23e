// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"fmt"

	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/sparse"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

// embedding encodes every query variant: dense vectors in one batch call,
// plus BM25 sparse encodings when hybrid search is on.
type embedding struct {
	dense  embeddings.Provider
	sparse sparse.Encoder
}

func (e *embedding) Name() string      { return opEmbedding }
func (e *embedding) Depends() []string { return []string{opExpansion} }

func (e *embedding) Run(ctx context.Context, s *State) error {
	vecs, err := e.dense.EmbedMany(ctx, s.Queries)
	if err != nil {
		return fmt.Errorf("embedding queries: %w", err)
	}
	s.Dense = vecs

	if e.sparse != nil {
		s.Sparse = make([]*sparse.Vector, len(s.Queries))
		for i, q := range s.Queries {
			s.Sparse[i] = e.sparse.Encode(q)
		}
	}
	return nil
}

// retrieval runs the store search, one request per query variant, and merges
// the batches into a single ranking by max score per entity. The quality
// gates fire here: zero hits or nothing above the relevance floor become
// statuses, not errors.
type retrieval struct {
	store vectorstore.Store
}

func (r *retrieval) Name() string      { return opRetrieval }
func (r *retrieval) Depends() []string { return []string{opEmbedding, opFilterMerge} }

func (r *retrieval) Run(ctx context.Context, s *State) error {
	fetch := s.Options.fetchLimit()

	params := make([]vectorstore.SearchParams, len(s.Queries))
	for i, q := range s.Queries {
		p := vectorstore.SearchParams{
			Vector:         s.Dense[i],
			Text:           q,
			Filter:         s.Filter,
			Decay:          s.Options.Decay,
			Limit:          fetch,
			ScoreThreshold: s.Options.ScoreThreshold,
		}
		if s.Sparse != nil {
			p.Sparse = s.Sparse[i]
		}
		params[i] = p
	}

	var merged []vectorstore.Result
	if len(params) == 1 {
		batch, err := r.store.Search(ctx, s.CollectionID, params[0])
		if err != nil {
			return fmt.Errorf("searching collection: %w", err)
		}
		merged = vectorstore.MergeByEntity([][]vectorstore.Result{batch}, fetch)
	} else {
		batches, err := r.store.BulkSearch(ctx, s.CollectionID, params)
		if err != nil {
			return fmt.Errorf("searching collection: %w", err)
		}
		merged = vectorstore.MergeByEntity(batches, fetch)
	}

	if len(merged) == 0 {
		s.Status = StatusNoResults
		return nil
	}
	// Merged results are sorted by score descending, so the head carries the
	// best score the collection has to offer.
	if merged[0].Score < relevanceFloor {
		s.Status = StatusNoRelevantResults
		s.Results = merged
		return nil
	}

	s.Status = StatusSuccess
	s.Results = merged
	return nil
}
