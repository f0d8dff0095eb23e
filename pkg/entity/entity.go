// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package entity defines the unit of ingestion: the typed records produced by
// connectors and transformers, their registered definitions, and the
// deterministic identities (content hash, point id) the engine uses for
// idempotent writes.
package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/sparse"
)

// Kind discriminates the runtime shape of an entity. Transformers and the
// router branch on it; payload fields stay opaque.
type Kind string

const (
	// KindChunk is a directly embeddable record.
	KindChunk Kind = "chunk"
	// KindFile references remote bytes that must be materialized and chunked.
	KindFile Kind = "file"
	// KindCodeFile is a file whose chunks get code-aware treatment.
	KindCodeFile Kind = "code_file"
	// KindPolymorphic is a table-row entity whose schema was computed from
	// database column metadata at sync time.
	KindPolymorphic Kind = "polymorphic"
	// KindParent is a synthesized parent record for a split entity.
	KindParent Kind = "parent"
)

// Breadcrumb is one ancestor on the path from the source root to an entity.
type Breadcrumb struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// File carries the remote-content reference of a file entity. The connector
// supplies either DownloadURL (+ optional headers) or Content directly; the
// framework materializes Content before chunking.
type File struct {
	Name        string            `json:"name"`
	MimeType    string            `json:"mime_type,omitempty"`
	Size        int64             `json:"size,omitempty"`
	DownloadURL string            `json:"download_url,omitempty"`
	Headers     map[string]string `json:"-"`
	Checksum    string            `json:"checksum,omitempty"`

	// Content holds the materialized bytes. Never serialized into payloads.
	Content []byte `json:"-"`
}

// Code carries code-file specifics for code-aware chunking.
type Code struct {
	RepoName  string `json:"repo_name,omitempty"`
	Path      string `json:"path"`
	Language  string `json:"language,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Column describes one column of a polymorphic table entity.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// Table carries the runtime-computed shape of a polymorphic table entity.
type Table struct {
	Schema      string   `json:"schema"`
	Table       string   `json:"table"`
	Columns     []Column `json:"columns"`
	PrimaryKeys []string `json:"primary_keys"`
}

// Entity is a value produced by a connector or a transformer. Entities are
// owned by the pipeline stage currently processing them; once upserted they
// are owned by the destination and addressed by their PointID.
type Entity struct {
	// EntityID is stable within the source ("file-3fa2", "row:public.users:17").
	EntityID string

	Kind Kind

	// DefinitionID is the registered entity definition, zero when the
	// producer relies on kind-based fallback resolution.
	DefinitionID uuid.UUID

	// BaseDefinitionID is set on synthesized parent/chunk entities and points
	// at the definition of the type they were derived from.
	BaseDefinitionID uuid.UUID

	// Breadcrumbs is the ordered ancestor path from the source root.
	Breadcrumbs []Breadcrumb

	// Payload is the opaque typed record. Canonical JSON of this map is the
	// content hash input, so producers must put every meaningful field here.
	Payload map[string]any

	// EmbeddableText is the text representation handed to the embedder.
	// Stripped from search results; used by the completion stage.
	EmbeddableText string

	// ChunkIndex / ChunkCount are set by chunking transformers.
	ChunkIndex int
	ChunkCount int

	// Vector and Sparse are attached by the embedder stage.
	Vector []float32
	Sparse *sparse.Vector

	// File, Code and Table are populated according to Kind.
	File  *File
	Code  *Code
	Table *Table

	// System metadata stamped by the engine.
	SourceName string
	SyncID     uuid.UUID
	SyncJobID  uuid.UUID
	URL        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WithBreadcrumb returns a shallow copy of e with one breadcrumb appended.
// Transformers use it to keep ancestry intact across splits.
func (e *Entity) WithBreadcrumb(b Breadcrumb) *Entity {
	out := *e
	out.Breadcrumbs = make([]Breadcrumb, 0, len(e.Breadcrumbs)+1)
	out.Breadcrumbs = append(out.Breadcrumbs, e.Breadcrumbs...)
	out.Breadcrumbs = append(out.Breadcrumbs, b)
	return &out
}
