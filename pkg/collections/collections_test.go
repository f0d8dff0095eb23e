// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package collections

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
	metasqlite "github.com/airweave/airweave-go/pkg/metastore/sqlite"
	"github.com/airweave/airweave-go/pkg/vectorstore"
	"github.com/airweave/airweave-go/pkg/vectorstore/sqlitevec"
)

type env struct {
	service *Service
	stores  *metastore.Stores
	vec     vectorstore.Store
	org     core.Organization
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	db, err := metasqlite.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	storesVal := metasqlite.NewStores(db)
	stores := &storesVal

	vec, err := sqlitevec.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	org := core.Organization{ID: uuid.New(), Name: "acme"}
	require.NoError(t, stores.Organizations.Create(ctx, &org))

	return &env{
		service: New(stores.Collections, stores.Connections, vec, 384, nil),
		stores:  stores,
		vec:     vec,
		org:     org,
	}
}

func TestCreateRegistersNamespace(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	coll, err := e.service.Create(ctx, e.org.ID, "Finance Docs")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(coll.ReadableID, "finance-docs-"), coll.ReadableID)
	assert.Len(t, coll.ReadableID, len("finance-docs-")+suffixLength)

	got, err := e.service.Get(ctx, e.org.ID, coll.ReadableID)
	require.NoError(t, err)
	assert.Equal(t, coll.ID, got.ID)

	namespaces, err := e.vec.Collections(ctx)
	require.NoError(t, err)
	assert.Contains(t, namespaces, coll.ID)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.service.Create(ctx, e.org.ID, "   ")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.service.Create(ctx, e.org.ID, strings.Repeat("x", maxNameLength+1))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestReadableIDsNeverCollide(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.service.Create(ctx, e.org.ID, "Docs")
	require.NoError(t, err)
	b, err := e.service.Create(ctx, e.org.ID, "Docs")
	require.NoError(t, err)
	assert.NotEqual(t, a.ReadableID, b.ReadableID)
}

func TestDeleteRemovesNamespace(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	coll, err := e.service.Create(ctx, e.org.ID, "Docs")
	require.NoError(t, err)
	require.NoError(t, e.vec.Upsert(ctx, coll.ID, []vectorstore.Point{{
		ID: uuid.New(), EntityID: "doc-1", Vector: make([]float32, 384),
		Payload: map[string]any{"entity_id": "doc-1"},
	}}))

	require.NoError(t, e.service.Delete(ctx, e.org.ID, coll.ReadableID))

	_, err = e.service.Get(ctx, e.org.ID, coll.ReadableID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	namespaces, err := e.vec.Collections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, namespaces, coll.ID)
}

func TestDeleteRefusedWhileConnectionsExist(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	coll, err := e.service.Create(ctx, e.org.ID, "Docs")
	require.NoError(t, err)
	conn := core.SourceConnection{
		ID: uuid.New(), OrganizationID: e.org.ID, Name: "src", ShortName: "scripted",
		CollectionID: coll.ID, AuthVariant: core.AuthDirect, Status: core.ConnectionActive,
	}
	require.NoError(t, e.stores.Connections.Create(ctx, &conn))

	err = e.service.Delete(ctx, e.org.ID, coll.ReadableID)
	assert.ErrorIs(t, err, core.ErrValidation)

	// The collection and namespace both survive a refused delete.
	_, err = e.service.Get(ctx, e.org.ID, coll.ReadableID)
	assert.NoError(t, err)
}

func TestDetectAndPruneOrphans(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	coll, err := e.service.Create(ctx, e.org.ID, "Docs")
	require.NoError(t, err)

	// A namespace with no row, and a row whose namespace is gone.
	stray := uuid.New()
	require.NoError(t, e.vec.EnsureCollection(ctx, stray, 384))
	require.NoError(t, e.vec.DeleteCollection(ctx, coll.ID))

	report, err := e.service.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stray}, report.Namespaces)
	assert.Equal(t, []uuid.UUID{coll.ID}, report.Collections)

	_, err = e.service.PruneOrphans(ctx)
	require.NoError(t, err)

	report, err = e.service.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Namespaces)
	assert.Empty(t, report.Collections)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "finance-docs", Slugify("Finance Docs"))
	assert.Equal(t, "q3-2025-report", Slugify("  Q3/2025 Report! "))
	assert.Equal(t, "", Slugify("!!!"))
	assert.Equal(t, "caf", Slugify("café"))
}
