// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/sparse"
)

func TestEmbedBatchAttachesVectors(t *testing.T) {
	t.Parallel()

	mgr, err := embeddings.NewManager(&embeddings.Config{
		BackendType: embeddings.BackendTypePlaceholder,
		Dimension:   64,
	})
	require.NoError(t, err)

	em := NewEmbedder(mgr, sparse.NewBM25Encoder())

	ents := []*entity.Entity{
		{EntityID: "a", EmbeddableText: "first document about syncing"},
		{EntityID: "b", EmbeddableText: "second document about searching"},
	}
	require.NoError(t, em.EmbedBatch(context.Background(), ents))

	for _, e := range ents {
		assert.Len(t, e.Vector, 64)
		require.NotNil(t, e.Sparse)
		assert.NotEmpty(t, e.Sparse.Indices)
		assert.Equal(t, len(e.Sparse.Indices), len(e.Sparse.Values))
	}
}

func TestEmbedBatchFillsEmptyText(t *testing.T) {
	t.Parallel()

	mgr, err := embeddings.NewManager(&embeddings.Config{
		BackendType: embeddings.BackendTypePlaceholder,
		Dimension:   32,
	})
	require.NoError(t, err)

	em := NewEmbedder(mgr, nil)

	e := &entity.Entity{
		EntityID:   "rec",
		SourceName: "jira",
		Payload: map[string]any{
			"title":  "Fix login flow",
			"status": "open",
		},
	}
	require.NoError(t, em.EmbedBatch(context.Background(), []*entity.Entity{e}))

	assert.Equal(t, "Source: jira\nstatus: open\ntitle: Fix login flow", e.EmbeddableText)
	assert.Len(t, e.Vector, 32)
	assert.Nil(t, e.Sparse)
}

func TestEmbedBatchEmpty(t *testing.T) {
	t.Parallel()

	em := NewEmbedder(nil, nil)
	assert.NoError(t, em.EmbedBatch(context.Background(), nil))
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingProvider) EmbedMany(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingProvider) Dimension() int { return 8 }
func (failingProvider) Close() error   { return nil }

func TestEmbedBatchPropagatesProviderError(t *testing.T) {
	t.Parallel()

	em := NewEmbedder(failingProvider{}, nil)
	err := em.EmbedBatch(context.Background(), []*entity.Entity{{EntityID: "x", EmbeddableText: "t"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding service down")
}

func TestBuildEmbeddableText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		e    *entity.Entity
		want string
	}{
		{
			name: "sorted scalar fields with source",
			e: &entity.Entity{
				SourceName: "github",
				Payload: map[string]any{
					"zeta":   "last",
					"alpha":  "first",
					"count":  float64(3),
					"open":   true,
					"nested": map[string]any{"skip": "me"},
					"blank":  "",
				},
			},
			want: "Source: github\nalpha: first\ncount: 3\nopen: true\nzeta: last",
		},
		{
			name: "no source no payload",
			e:    &entity.Entity{},
			want: "",
		},
		{
			name: "payload only",
			e:    &entity.Entity{Payload: map[string]any{"k": "v"}},
			want: "k: v",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, BuildEmbeddableText(tc.e))
		})
	}
}
