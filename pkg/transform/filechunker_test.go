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

func newFileEntity(name, mime string, content []byte) *entity.Entity {
	return &entity.Entity{
		EntityID:     "file-1",
		Kind:         entity.KindFile,
		DefinitionID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("test/file-def")),
		SourceName:   "drive",
		File: &entity.File{
			Name:        name,
			MimeType:    mime,
			Size:        int64(len(content)),
			DownloadURL: "https://example.com/" + name,
			Checksum:    "abc123",
			Content:     content,
		},
	}
}

func TestFileChunkerRejectsNonFile(t *testing.T) {
	t.Parallel()

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{})
	_, err := fc.Apply(context.Background(), &entity.Entity{EntityID: "e1", Kind: entity.KindChunk})
	require.Error(t, err)
}

func TestFileChunkerRejectsUnmaterialized(t *testing.T) {
	t.Parallel()

	e := newFileEntity("doc.txt", "text/plain", nil)
	e.File.Content = nil

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{})
	_, err := fc.Apply(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no materialized content")
}

func TestFileChunkerSplitsText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)
	e := newFileEntity("doc.txt", "text/plain", []byte(text))

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{MaxChunkTokens: 128, OverlapTokens: 10})
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Greater(t, len(out), 1)

	for i, c := range out {
		assert.Equal(t, entity.KindChunk, c.Kind)
		assert.Equal(t, e.DefinitionID, c.BaseDefinitionID)
		assert.Equal(t, uuid.Nil, c.DefinitionID)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(out), c.ChunkCount)
		assert.Equal(t, "file-1", c.EntityID)

		// File metadata survives, the bytes do not.
		require.NotNil(t, c.File)
		assert.Equal(t, "doc.txt", c.File.Name)
		assert.Equal(t, "abc123", c.File.Checksum)
		assert.Nil(t, c.File.Content)

		assert.True(t, strings.HasPrefix(c.EmbeddableText, "doc.txt\n\n"))
	}

	// The source entity keeps its content.
	assert.NotNil(t, e.File.Content)
}

func TestFileChunkerSkipsBinary(t *testing.T) {
	t.Parallel()

	e := newFileEntity("img.png", "image/png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x1a})

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{BinaryMode: BinarySkip})
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileChunkerBinaryMetadataMode(t *testing.T) {
	t.Parallel()

	e := newFileEntity("img.png", "image/png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x1a})

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{BinaryMode: BinaryMetadata})
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, entity.KindChunk, c.Kind)
	assert.Equal(t, 0, c.ChunkIndex)
	assert.Equal(t, 1, c.ChunkCount)
	assert.Contains(t, c.EmbeddableText, "img.png")
	assert.Contains(t, c.EmbeddableText, "image/png")
	assert.Nil(t, c.File.Content)
}

func TestFileChunkerTextualMimeOverridesSniff(t *testing.T) {
	t.Parallel()

	// Valid text content but probe-hostile bytes never appear here; instead
	// verify the mime allowlist keeps json files on the text path.
	e := newFileEntity("data.json", "application/json", []byte(`{"k":"v"}`))

	fc := NewFileChunker(tokens.Heuristic{}, FileChunkerConfig{})
	out, err := fc.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].EmbeddableText, `{"k":"v"}`)
}

func TestHasTextualMime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/markdown", true},
		{"application/json", true},
		{"application/yaml", true},
		{"application/pdf", false},
		{"image/png", false},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, hasTextualMime(tc.mime), tc.mime)
	}
}
