// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/tokens"
)

// Transformer name constants used when wiring DAG transformer nodes.
const (
	FileChunkerName    = "file_chunker"
	CodeChunkerName    = "code_chunker"
	CodeSummarizerName = "code_summarizer"
	FieldChunkerName   = "field_chunker"
)

// BinaryMode selects what happens to non-text files.
type BinaryMode string

const (
	// BinarySkip drops binary files entirely.
	BinarySkip BinaryMode = "skip"
	// BinaryMetadata yields a single metadata-only chunk per binary file.
	BinaryMetadata BinaryMode = "metadata"
)

// FileChunkerConfig configures the file chunker.
type FileChunkerConfig struct {
	MaxChunkTokens int
	OverlapTokens  int
	BinaryMode     BinaryMode
}

// FileChunker splits materialized file entities into overlapping text chunks
// sized to the embedder's token budget.
type FileChunker struct {
	counter tokens.Counter
	cfg     FileChunkerConfig
}

// NewFileChunker creates a file chunker. Zero config fields get defaults
// (512-token chunks, 50-token overlap, skip binaries).
func NewFileChunker(counter tokens.Counter, cfg FileChunkerConfig) *FileChunker {
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = 512
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 50
	}
	if cfg.BinaryMode == "" {
		cfg.BinaryMode = BinarySkip
	}
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	return &FileChunker{counter: counter, cfg: cfg}
}

// Name implements the transformer contract.
func (*FileChunker) Name() string { return FileChunkerName }

// Apply splits one file entity. The framework must have materialized
// File.Content before routing; an unmaterialized file is a pipeline bug.
func (f *FileChunker) Apply(_ context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if e.File == nil {
		return nil, fmt.Errorf("entity %s is not a file entity", e.EntityID)
	}
	if e.File.Content == nil {
		return nil, fmt.Errorf("file %s has no materialized content", e.EntityID)
	}

	if !isTextContent(e.File.Content) && !hasTextualMime(e.File.MimeType) {
		switch f.cfg.BinaryMode {
		case BinaryMetadata:
			return []*entity.Entity{f.metadataChunk(e)}, nil
		default:
			return nil, nil
		}
	}

	text := string(e.File.Content)
	spans := SplitText(text, f.counter, SplitterConfig{
		MaxTokens:     f.cfg.MaxChunkTokens,
		OverlapTokens: f.cfg.OverlapTokens,
	})

	out := make([]*entity.Entity, 0, len(spans))
	for _, span := range spans {
		c := f.chunkFrom(e, span.Index, len(spans))
		c.EmbeddableText = fmt.Sprintf("%s\n\n%s", e.File.Name, span.Text)
		out = append(out, c)
	}
	return out, nil
}

// chunkFrom builds a chunk entity inheriting identity and breadcrumbs from
// the file, without carrying the file bytes along.
func (f *FileChunker) chunkFrom(e *entity.Entity, index, count int) *entity.Entity {
	c := *e
	c.Kind = entity.KindChunk
	c.BaseDefinitionID = e.DefinitionID
	c.DefinitionID = uuid.Nil
	c.ChunkIndex = index
	c.ChunkCount = count
	c.File = &entity.File{
		Name:        e.File.Name,
		MimeType:    e.File.MimeType,
		Size:        e.File.Size,
		DownloadURL: e.File.DownloadURL,
		Checksum:    e.File.Checksum,
	}
	return &c
}

func (f *FileChunker) metadataChunk(e *entity.Entity) *entity.Entity {
	c := f.chunkFrom(e, 0, 1)
	c.EmbeddableText = fmt.Sprintf("File: %s (type: %s, size: %d bytes)",
		e.File.Name, e.File.MimeType, e.File.Size)
	return c
}

func hasTextualMime(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/x-yaml",
		"application/yaml", "application/javascript", "application/csv":
		return true
	}
	return false
}
