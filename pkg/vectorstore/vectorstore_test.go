// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/entity"
)

func TestStripPayload(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"entity_id":       "e1",
		"title":           "hello",
		"vector":          []float32{1, 2},
		"download_url":    "https://example.com/f",
		"checksum":        "abc",
		"embeddable_text": "hello world",
	}

	got := StripPayload(payload)
	assert.Equal(t, map[string]any{
		"entity_id": "e1",
		"title":     "hello",
	}, got)

	// The input payload is untouched.
	assert.Contains(t, payload, "embeddable_text")

	assert.Nil(t, StripPayload(nil))
}

func TestMergeFilters(t *testing.T) {
	t.Parallel()

	assert.Nil(t, MergeFilters(nil, nil))

	a := &Filter{Must: []Condition{{Field: "source_name", Equals: "github"}}}
	b := &Filter{Must: []Condition{{Field: "status", Equals: "open"}}}

	got := MergeFilters(a, b)
	require.NotNil(t, got)
	assert.Len(t, got.Must, 2)

	onlyA := MergeFilters(a, nil)
	require.NotNil(t, onlyA)
	assert.Equal(t, a.Must, onlyA.Must)
}

func TestMergeByEntity(t *testing.T) {
	t.Parallel()

	batches := [][]Result{
		{
			{EntityID: "a", Score: 0.9},
			{EntityID: "b", Score: 0.5},
		},
		{
			{EntityID: "b", Score: 0.8},
			{EntityID: "c", Score: 0.4},
		},
	}

	merged := MergeByEntity(batches, 0)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].EntityID)
	assert.Equal(t, "b", merged[1].EntityID)
	assert.InDelta(t, 0.8, merged[1].Score, 1e-9)
	assert.Equal(t, "c", merged[2].EntityID)

	truncated := MergeByEntity(batches, 2)
	assert.Len(t, truncated, 2)
}

func TestMergeByEntityDeterministicTies(t *testing.T) {
	t.Parallel()

	batches := [][]Result{{
		{EntityID: "z", Score: 0.5},
		{EntityID: "a", Score: 0.5},
	}}
	merged := MergeByEntity(batches, 0)
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].EntityID)
	assert.Equal(t, "z", merged[1].EntityID)
}

func TestPointFromEntity(t *testing.T) {
	t.Parallel()

	collectionID := uuid.New()
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := &entity.Entity{
		EntityID:       "issue-42",
		Kind:           entity.KindChunk,
		SourceName:     "github",
		EmbeddableText: "fix the login flow",
		ChunkIndex:     1,
		ChunkCount:     3,
		UpdatedAt:      updated,
		Vector:         []float32{0.1, 0.2},
		Breadcrumbs: []entity.Breadcrumb{
			{EntityID: "repo-1", Name: "acme/app", Type: "repository"},
		},
		Payload: map[string]any{
			"title": "Login broken",
			// A user field colliding with a system key must not win.
			"entity_id": "spoofed",
		},
		File: &entity.File{
			Name:        "spec.md",
			MimeType:    "text/markdown",
			DownloadURL: "https://example.com/spec.md",
			Checksum:    "sha-1",
		},
	}

	p := PointFromEntity(collectionID, e)

	assert.Equal(t, entity.PointID(collectionID, "issue-42", 1), p.ID)
	assert.Equal(t, "issue-42", p.EntityID)
	assert.Equal(t, []float32{0.1, 0.2}, p.Vector)

	assert.Equal(t, "issue-42", p.Payload[PayloadEntityID])
	assert.Equal(t, "github", p.Payload[PayloadSourceName])
	assert.Equal(t, "fix the login flow", p.Payload[PayloadEmbeddableText])
	assert.Equal(t, 1, p.Payload["chunk_index"])
	assert.Equal(t, 3, p.Payload["chunk_count"])
	assert.Equal(t, "Login broken", p.Payload["title"])
	assert.Equal(t, "2025-06-01T12:00:00Z", p.Payload["updated_at"])
	assert.Equal(t, "https://example.com/spec.md", p.Payload[PayloadDownloadURL])
	assert.Equal(t, "sha-1", p.Payload[PayloadChecksum])

	crumbs, ok := p.Payload["breadcrumbs"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, crumbs, 1)
	assert.Equal(t, "acme/app", crumbs[0]["name"])

	// The original entity payload is not mutated.
	assert.Equal(t, "spoofed", e.Payload["entity_id"])
}

func TestPointFromEntityCodeFields(t *testing.T) {
	t.Parallel()

	e := &entity.Entity{
		EntityID: "file-7",
		Code: &entity.Code{
			RepoName:  "acme/app",
			Path:      "pkg/auth/token.go",
			Language:  "go",
			LineStart: 10,
			LineEnd:   42,
			Summary:   "Refreshes OAuth tokens.",
		},
	}

	p := PointFromEntity(uuid.New(), e)
	assert.Equal(t, "pkg/auth/token.go", p.Payload["path"])
	assert.Equal(t, "go", p.Payload["language"])
	assert.Equal(t, 10, p.Payload["line_start"])
	assert.Equal(t, "Refreshes OAuth tokens.", p.Payload["summary"])
}
