// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/sparse"
)

// Embedder is the batch stage that attaches dense (and optionally sparse)
// vectors to terminal entities before the destination write. It is not part
// of the routing DAG; the engine invokes it per upsert batch.
type Embedder struct {
	dense  embeddings.Provider
	sparse sparse.Encoder
}

// NewEmbedder creates an embedder. The sparse encoder may be nil when the
// destination does not use hybrid search.
func NewEmbedder(dense embeddings.Provider, sparseEnc sparse.Encoder) *Embedder {
	return &Embedder{dense: dense, sparse: sparseEnc}
}

// Dimension reports the dense provider's fixed vector dimension.
func (em *Embedder) Dimension() int { return em.dense.Dimension() }

// EmbedBatch attaches vectors to every entity in the batch, filling in
// embeddable text from the payload where a producer left it empty.
func (em *Embedder) EmbedBatch(ctx context.Context, ents []*entity.Entity) error {
	if len(ents) == 0 {
		return nil
	}

	texts := make([]string, len(ents))
	for i, e := range ents {
		if e.EmbeddableText == "" {
			e.EmbeddableText = BuildEmbeddableText(e)
		}
		texts[i] = e.EmbeddableText
	}

	vecs, err := em.dense.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch of %d: %w", len(ents), err)
	}

	for i, e := range ents {
		e.Vector = vecs[i]
		if em.sparse != nil {
			e.Sparse = em.sparse.Encode(texts[i])
		}
	}
	return nil
}

// BuildEmbeddableText derives a text representation from an entity payload:
// scalar fields in key order, prefixed with the source and entity names so
// short records still carry context.
func BuildEmbeddableText(e *entity.Entity) string {
	var sb strings.Builder
	if e.SourceName != "" {
		sb.WriteString("Source: ")
		sb.WriteString(e.SourceName)
		sb.WriteString("\n")
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := e.Payload[k].(type) {
		case string:
			if v == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\n", k, v)
		case float64, int, int64, bool:
			fmt.Fprintf(&sb, "%s: %v\n", k, v)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
