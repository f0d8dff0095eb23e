// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vectorstore defines the destination capability consumed by the
// sync engine and the search pipeline. A Store holds one namespace per
// collection UUID; writes are idempotent under the point id.
package vectorstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/sparse"
)

// Point is one addressable vector record. The payload carries the entity
// fields plus system metadata; the id is derived from (collection, entity id,
// chunk index) so re-upserting the same logical record overwrites in place.
type Point struct {
	ID       uuid.UUID
	EntityID string
	Vector   []float32
	Sparse   *sparse.Vector
	Payload  map[string]any
}

// Condition is one payload predicate. Exactly one of Equals, AnyOf or a
// GTE/LTE range should be set.
type Condition struct {
	Field  string `json:"field"`
	Equals any    `json:"equals,omitempty"`
	AnyOf  []any  `json:"any_of,omitempty"`
	GTE    any    `json:"gte,omitempty"`
	LTE    any    `json:"lte,omitempty"`
}

// Filter is a conjunction of payload conditions.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// MergeFilters conjoins two filters. Either side may be nil.
func MergeFilters(a, b *Filter) *Filter {
	if a == nil && b == nil {
		return nil
	}
	merged := &Filter{}
	if a != nil {
		merged.Must = append(merged.Must, a.Must...)
	}
	if b != nil {
		merged.Must = append(merged.Must, b.Must...)
	}
	return merged
}

// Decay configures recency weighting. The destination modulates similarity
// as sim * ((1-Weight) + Weight*decay(age)) where decay is linear over the
// collection's observed [oldest, newest] span of the datetime field.
type Decay struct {
	// Field is the payload datetime field, RFC 3339 or unix seconds.
	Field string `json:"field"`
	// Weight in [0, 1]; 0 disables decay, 1 ranks purely by recency.
	Weight float64 `json:"weight"`
}

// SearchParams is one retrieval request against a collection namespace.
type SearchParams struct {
	// Vector is the dense query embedding.
	Vector []float32
	// Sparse is the optional BM25 query encoding for hybrid scoring.
	Sparse *sparse.Vector
	// Text is the raw query for destinations with native keyword search.
	Text string

	Filter *Filter
	Decay  *Decay

	Limit  int
	Offset int
	// ScoreThreshold drops results scoring below it (applied after decay).
	ScoreThreshold *float64
}

// Result is one scored match. The payload is returned as stored; callers
// building external responses must pass it through StripPayload first.
type Result struct {
	ID       uuid.UUID
	EntityID string
	Score    float64
	Payload  map[string]any
}

// Store is the destination contract. Implementations must tolerate repeated
// upserts of the same point id and treat unknown collection ids as empty.
type Store interface {
	// EnsureCollection registers a namespace with a fixed vector dimension.
	EnsureCollection(ctx context.Context, collectionID uuid.UUID, dimension int) error
	// Collections lists namespaces currently present in the store.
	Collections(ctx context.Context) ([]uuid.UUID, error)
	// Count reports the number of points in a namespace.
	Count(ctx context.Context, collectionID uuid.UUID) (int64, error)

	Upsert(ctx context.Context, collectionID uuid.UUID, points []Point) error
	Delete(ctx context.Context, collectionID uuid.UUID, ids []uuid.UUID) error
	DeleteByFilter(ctx context.Context, collectionID uuid.UUID, filter *Filter) error

	Search(ctx context.Context, collectionID uuid.UUID, params SearchParams) ([]Result, error)
	// BulkSearch runs one search per query with a shared collection; result
	// batches are positional. Merging across queries is the caller's job.
	BulkSearch(ctx context.Context, collectionID uuid.UUID, queries []SearchParams) ([][]Result, error)

	DeleteCollection(ctx context.Context, collectionID uuid.UUID) error
	Close() error
}

// Payload keys withheld from search results returned to external callers.
// The embeddable text stays available internally for answer generation.
const (
	PayloadEntityID       = "entity_id"
	PayloadSourceName     = "source_name"
	PayloadEmbeddableText = "embeddable_text"
	PayloadDownloadURL    = "download_url"
	PayloadChecksum       = "checksum"
	PayloadVector         = "vector"
)

var strippedKeys = [...]string{
	PayloadVector, PayloadDownloadURL, PayloadChecksum, PayloadEmbeddableText,
}

// StripPayload returns a copy of the payload without internal-only fields.
func StripPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, k := range strippedKeys {
		delete(out, k)
	}
	return out
}

// PointFromEntity builds the destination point for a terminal entity. The
// entity payload fields are carried over and system metadata is written on
// top, so user fields can never mask identity or provenance keys.
func PointFromEntity(collectionID uuid.UUID, e *entity.Entity) Point {
	payload := make(map[string]any, len(e.Payload)+12)
	for k, v := range e.Payload {
		payload[k] = v
	}

	payload[PayloadEntityID] = e.EntityID
	payload[PayloadSourceName] = e.SourceName
	payload[PayloadEmbeddableText] = e.EmbeddableText
	payload["chunk_index"] = e.ChunkIndex
	payload["chunk_count"] = e.ChunkCount
	if e.SyncID != uuid.Nil {
		payload["sync_id"] = e.SyncID.String()
	}
	if e.SyncJobID != uuid.Nil {
		payload["sync_job_id"] = e.SyncJobID.String()
	}
	if e.URL != "" {
		payload["url"] = e.URL
	}
	if !e.CreatedAt.IsZero() {
		payload["created_at"] = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !e.UpdatedAt.IsZero() {
		payload["updated_at"] = e.UpdatedAt.UTC().Format(time.RFC3339)
	}

	if len(e.Breadcrumbs) > 0 {
		crumbs := make([]map[string]any, len(e.Breadcrumbs))
		for i, b := range e.Breadcrumbs {
			crumbs[i] = map[string]any{
				"entity_id": b.EntityID,
				"name":      b.Name,
				"type":      b.Type,
			}
		}
		payload["breadcrumbs"] = crumbs
	}

	if e.File != nil {
		payload["file_name"] = e.File.Name
		payload["mime_type"] = e.File.MimeType
		if e.File.DownloadURL != "" {
			payload[PayloadDownloadURL] = e.File.DownloadURL
		}
		if e.File.Checksum != "" {
			payload[PayloadChecksum] = e.File.Checksum
		}
	}
	if e.Code != nil {
		payload["repo_name"] = e.Code.RepoName
		payload["path"] = e.Code.Path
		payload["language"] = e.Code.Language
		payload["line_start"] = e.Code.LineStart
		payload["line_end"] = e.Code.LineEnd
		if e.Code.Summary != "" {
			payload["summary"] = e.Code.Summary
		}
	}
	if e.Table != nil {
		payload["table_schema"] = e.Table.Schema
		payload["table_name"] = e.Table.Table
	}

	return Point{
		ID:       entity.PointID(collectionID, e.EntityID, e.ChunkIndex),
		EntityID: e.EntityID,
		Vector:   e.Vector,
		Sparse:   e.Sparse,
		Payload:  payload,
	}
}

// MergeByEntity folds per-query result batches into one ranking, keeping the
// maximum score seen for each entity id.
func MergeByEntity(batches [][]Result, limit int) []Result {
	best := make(map[string]Result)
	for _, batch := range batches {
		for _, r := range batch {
			cur, ok := best[r.EntityID]
			if !ok || r.Score > cur.Score {
				best[r.EntityID] = r
			}
		}
	}

	merged := make([]Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].EntityID < merged[j].EntityID
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
