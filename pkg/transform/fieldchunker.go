// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/tokens"
)

// FieldChunker splits an already-structured record when its embeddable text
// exceeds the token budget, and passes it through untouched otherwise.
type FieldChunker struct {
	counter   tokens.Counter
	maxTokens int
	overlap   int
}

// NewFieldChunker creates a field chunker with the given token budget
// (default 512, overlap 50).
func NewFieldChunker(counter tokens.Counter, maxTokens, overlap int) *FieldChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlap < 0 {
		overlap = 50
	}
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	return &FieldChunker{counter: counter, maxTokens: maxTokens, overlap: overlap}
}

// Name implements the transformer contract.
func (*FieldChunker) Name() string { return FieldChunkerName }

// Apply returns the entity unchanged when it fits, or budget-sized splits
// when it does not.
func (f *FieldChunker) Apply(_ context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if f.counter.Count(e.EmbeddableText) <= f.maxTokens {
		return []*entity.Entity{e}, nil
	}

	spans := SplitText(e.EmbeddableText, f.counter, SplitterConfig{
		MaxTokens:     f.maxTokens,
		OverlapTokens: f.overlap,
	})

	out := make([]*entity.Entity, 0, len(spans))
	for _, span := range spans {
		c := *e
		c.Kind = entity.KindChunk
		if e.DefinitionID != uuid.Nil {
			c.BaseDefinitionID = e.DefinitionID
			c.DefinitionID = uuid.Nil
		}
		c.ChunkIndex = span.Index
		c.ChunkCount = len(spans)
		c.EmbeddableText = span.Text
		out = append(out, &c)
	}
	return out, nil
}
