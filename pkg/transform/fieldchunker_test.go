// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/tokens"
)

func TestFieldChunkerPassthrough(t *testing.T) {
	t.Parallel()

	e := &entity.Entity{
		EntityID:       "rec-1",
		Kind:           entity.KindChunk,
		EmbeddableText: "short record",
	}

	fc := NewFieldChunker(tokens.Heuristic{}, 512, 50)
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, e, out[0])
}

func TestFieldChunkerSplitsLongText(t *testing.T) {
	t.Parallel()

	defID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("test/record-def"))
	e := &entity.Entity{
		EntityID:       "rec-2",
		Kind:           entity.KindChunk,
		DefinitionID:   defID,
		EmbeddableText: strings.Repeat("a long body of ticket text. ", 200),
	}

	fc := NewFieldChunker(tokens.Heuristic{}, 64, 8)
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)

	for i, c := range out {
		assert.Equal(t, entity.KindChunk, c.Kind)
		assert.Equal(t, defID, c.BaseDefinitionID)
		assert.Equal(t, uuid.Nil, c.DefinitionID)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(out), c.ChunkCount)
		assert.Equal(t, "rec-2", c.EntityID)
		assert.NotEmpty(t, c.EmbeddableText)
	}
}

func TestFieldChunkerKeepsBaseDefinitionOnResplit(t *testing.T) {
	t.Parallel()

	// A chunk produced upstream already carries its origin in
	// BaseDefinitionID and has no definition of its own.
	baseID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("test/file-def"))
	e := &entity.Entity{
		EntityID:         "rec-3",
		Kind:             entity.KindChunk,
		BaseDefinitionID: baseID,
		EmbeddableText:   strings.Repeat("overflowing chunk text ", 100),
	}

	fc := NewFieldChunker(tokens.Heuristic{}, 64, 8)
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for _, c := range out {
		assert.Equal(t, baseID, c.BaseDefinitionID)
		assert.Equal(t, uuid.Nil, c.DefinitionID)
	}
}
