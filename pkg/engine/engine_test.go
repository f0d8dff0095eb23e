// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/dag"
	"github.com/airweave/airweave-go/pkg/embeddings"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/metastore"
	metasqlite "github.com/airweave/airweave-go/pkg/metastore/sqlite"
	"github.com/airweave/airweave-go/pkg/pubsub"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/sources"
	"github.com/airweave/airweave-go/pkg/sources/sourcetest"
	"github.com/airweave/airweave-go/pkg/transform"
	"github.com/airweave/airweave-go/pkg/vectorstore/sqlitevec"
)

// env wires an engine over in-memory stores with a scripted source queue:
// each Stream construction pops the next scripted source.
type env struct {
	stores metastore.Stores
	vec    *sqlitevec.Store
	bus    *pubsub.MemoryBus
	guard  *quota.Guard
	eng    *Engine

	org  core.Organization
	coll core.Collection
	conn core.SourceConnection
	syn  core.Sync

	mu   sync.Mutex
	next []*sourcetest.Source
}

func (e *env) enqueue(srcs ...*sourcetest.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = append(e.next, srcs...)
}

func newEnv(t *testing.T, withQuota bool) *env {
	t.Helper()
	ctx := context.Background()

	db, err := metasqlite.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vec, err := sqlitevec.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	mgr, err := embeddings.NewManager(&embeddings.Config{BackendType: embeddings.BackendTypePlaceholder})
	require.NoError(t, err)

	box, err := auth.NewBox(make([]byte, 32))
	require.NoError(t, err)

	e := &env{
		stores: metasqlite.NewStores(db),
		vec:    vec,
		bus:    pubsub.NewMemoryBus(),
	}
	t.Cleanup(func() { _ = e.bus.Close() })

	reg := sources.NewRegistry()
	reg.MustRegister(sources.Descriptor{
		ShortName:    "scripted",
		DisplayName:  "Scripted test source",
		AuthVariants: []core.AuthVariant{core.AuthDirect},
		New: func(context.Context, sources.Deps) (sources.Source, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if len(e.next) == 0 {
				return nil, fmt.Errorf("no scripted source queued")
			}
			src := e.next[0]
			e.next = e.next[1:]
			return src, nil
		},
	})

	if withQuota {
		e.guard = quota.New(e.stores.Billing)
	}

	eng, err := New(Config{
		Stores:   e.stores,
		Vectors:  vec,
		Embedder: transform.NewEmbedder(mgr, nil),
		Quota:    e.guard,
		Bus:      e.bus,
		Sources:  reg,
		Box:      box,
		// Tiny chunk budget so short scripted files split deterministically.
		FileChunker: transform.NewFileChunker(nil, transform.FileChunkerConfig{
			MaxChunkTokens: 10,
			OverlapTokens:  0,
		}),
		Workers: 2,
	})
	require.NoError(t, err)
	e.eng = eng

	// One organization with a collection, a direct connection and a sync.
	e.org = core.Organization{ID: uuid.New(), Name: "acme", CreatedAt: time.Now().UTC()}
	require.NoError(t, e.stores.Organizations.Create(ctx, &e.org))

	e.coll = core.Collection{
		ID:             uuid.New(),
		ReadableID:     "acme-docs",
		Name:           "Docs",
		OrganizationID: e.org.ID,
	}
	require.NoError(t, e.stores.Collections.Create(ctx, &e.coll))

	sealed, err := box.Seal(map[string]any{"api_key": "k"})
	require.NoError(t, err)
	cred := core.IntegrationCredential{
		ID:              uuid.New(),
		OrganizationID:  e.org.ID,
		SourceShortName: "scripted",
		AuthVariant:     core.AuthDirect,
		EncryptedFields: sealed,
	}
	require.NoError(t, e.stores.Credentials.Create(ctx, &cred))

	e.conn = core.SourceConnection{
		ID:             uuid.New(),
		OrganizationID: e.org.ID,
		Name:           "scripted",
		ShortName:      "scripted",
		CollectionID:   e.coll.ID,
		AuthVariant:    core.AuthDirect,
		Status:         core.ConnectionActive,
		CredentialID:   &cred.ID,
	}
	require.NoError(t, e.stores.Connections.Create(ctx, &e.conn))

	e.syn = core.Sync{
		ID:                 uuid.New(),
		Name:               "scripted sync",
		OrganizationID:     e.org.ID,
		SourceConnectionID: e.conn.ID,
		Status:             core.SyncActive,
	}
	require.NoError(t, e.stores.Syncs.Create(ctx, &e.syn))

	d, err := dag.BuildDefault(e.syn.ID, "scripted", nil)
	require.NoError(t, err)
	require.NoError(t, e.stores.Dags.Save(ctx, d))

	return e
}

func (e *env) runJob(t *testing.T) core.SyncJob {
	t.Helper()
	ctx := context.Background()

	job := core.SyncJob{ID: uuid.New(), SyncID: e.syn.ID, Status: core.JobPending}
	created, err := e.stores.Jobs.CreatePending(ctx, &job)
	require.NoError(t, err)
	require.True(t, created)

	_ = e.eng.Run(ctx, job.ID)

	final, err := e.stores.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	return final
}

func TestRunInsertsEntities(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	e.enqueue(&sourcetest.Source{
		Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
			sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
		},
		Cursor: map[string]any{"stream": "2025-01-02T00:00:00Z"},
	})

	job := e.runJob(t)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, int64(2), job.Stats.EntitiesProcessed)
	assert.Equal(t, int64(2), job.Stats.Inserted)
	assert.Zero(t, job.Stats.Failed)

	count, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	cursor, err := e.stores.Cursors.Get(context.Background(), e.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T00:00:00Z", cursor["stream"])

	states, err := e.stores.Entities.Load(context.Background(), e.syn.ID)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestRerunSkipsUnchangedAndDeletesNothing(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	script := []sourcetest.Step{
		sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
		sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
	}
	e.enqueue(&sourcetest.Source{Steps: script}, &sourcetest.Source{Steps: script})

	first := e.runJob(t)
	require.Equal(t, core.JobCompleted, first.Status)

	second := e.runJob(t)
	assert.Equal(t, core.JobCompleted, second.Status)
	assert.Equal(t, int64(2), second.Stats.Skipped)
	assert.Zero(t, second.Stats.Inserted)
	assert.Zero(t, second.Stats.Deleted)

	count, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRemovedEntityIsDeletedAfterSuccess(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	e.enqueue(
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
			sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
		}},
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
		}},
	)

	require.Equal(t, core.JobCompleted, e.runJob(t).Status)

	second := e.runJob(t)
	assert.Equal(t, core.JobCompleted, second.Status)
	assert.Equal(t, int64(1), second.Stats.Deleted)

	count, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFailedEntityDoesNotFailJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	e.enqueue(&sourcetest.Source{Steps: []sourcetest.Step{
		sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
		sourcetest.Skip(errors.New("record unparsable")),
	}})

	job := e.runJob(t)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, int64(1), job.Stats.Inserted)
	assert.Equal(t, int64(1), job.Stats.Failed)
}

func TestTerminalStreamErrorFailsJobAndKeepsCursor(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	e.enqueue(
		&sourcetest.Source{
			Steps:  []sourcetest.Step{sourcetest.Emit(sourcetest.Chunk("a", "alpha text"))},
			Cursor: map[string]any{"stream": "B"},
		},
		&sourcetest.Source{
			Steps:    []sourcetest.Step{sourcetest.Emit(sourcetest.Chunk("c", "gamma text"))},
			Terminal: fmt.Errorf("%w: source went away", core.ErrTransient),
			Cursor:   map[string]any{"stream": "D"},
		},
	)

	require.Equal(t, core.JobCompleted, e.runJob(t).Status)

	second := e.runJob(t)
	assert.Equal(t, core.JobFailed, second.Status)
	assert.Contains(t, second.Error, "source went away")

	// A failed run never advances the watermark.
	cursor, err := e.stores.Cursors.Get(context.Background(), e.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", cursor["stream"])
}

func TestGoneEntityIsDeleted(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	e.enqueue(
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
			sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
		}},
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
			sourcetest.Skip(&sources.GoneError{EntityID: "b"}),
		}},
	)

	require.Equal(t, core.JobCompleted, e.runJob(t).Status)

	second := e.runJob(t)
	assert.Equal(t, core.JobCompleted, second.Status)
	assert.Zero(t, second.Stats.Failed, "gone is a delete, not a failure")
	assert.Equal(t, int64(1), second.Stats.Deleted)

	count, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// fileEntity builds a file entity whose payload rev controls the hash; the
// materialized content never enters the payload, mirroring real connectors.
func fileEntity(id, rev, mime string, content []byte) *entity.Entity {
	return &entity.Entity{
		EntityID: id,
		Kind:     entity.KindFile,
		Payload:  map[string]any{"id": id, "rev": rev},
		File: &entity.File{
			Name:     id + ".txt",
			MimeType: mime,
			Content:  content,
		},
	}
}

func TestFileTurnedBinaryDropsAllChunks(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	binary := []byte{0x89, 'P', 'N', 'G', 0x00, 0x1a}
	e.enqueue(
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(fileEntity("readme", "rev-1", "text/plain", []byte("alpha alpha alpha."))),
		}},
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(fileEntity("readme", "rev-2", "application/octet-stream", binary)),
		}},
	)

	require.Equal(t, core.JobCompleted, e.runJob(t).Status)
	count, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	second := e.runJob(t)
	assert.Equal(t, core.JobCompleted, second.Status)
	assert.Equal(t, int64(1), second.Stats.Deleted)

	count, err = e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "skipped binary content must not leave old text chunks behind")

	states, err := e.stores.Entities.Load(context.Background(), e.syn.ID)
	require.NoError(t, err)
	assert.Empty(t, states, "an entity with no content must not be tracked as seen")

	// Re-emitting the binary file stays clean rather than resurrecting
	// phantom state.
	e.enqueue(&sourcetest.Source{Steps: []sourcetest.Step{
		sourcetest.Emit(fileEntity("readme", "rev-2", "application/octet-stream", binary)),
	}})
	third := e.runJob(t)
	assert.Equal(t, core.JobCompleted, third.Status)

	count, err = e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestShrunkFileDropsTailChunks(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	// Three ~34-char paragraphs: each fits the 10-token budget alone, no
	// two fit together, so the first run upserts exactly three chunks.
	long := "alpha alpha alpha alpha alpha one.\n\n" +
		"alpha alpha alpha alpha alpha two.\n\n" +
		"alpha alpha alpha alpha alpha three."
	e.enqueue(
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(fileEntity("notes", "rev-1", "text/plain", []byte(long))),
		}},
		&sourcetest.Source{Steps: []sourcetest.Step{
			sourcetest.Emit(fileEntity("notes", "rev-2", "text/plain", []byte("alpha alpha short."))),
		}},
	)

	require.Equal(t, core.JobCompleted, e.runJob(t).Status)
	before, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), before)

	second := e.runJob(t)
	assert.Equal(t, core.JobCompleted, second.Status)
	assert.Equal(t, int64(1), second.Stats.Updated)
	assert.Zero(t, second.Stats.Deleted)

	after, err := e.vec.Count(context.Background(), e.coll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after, "stale tail chunks must be dropped on shrink")

	states, err := e.stores.Entities.Load(context.Background(), e.syn.ID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 1, states["notes"].ChunkCount)
}

func TestCancelMidStream(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	release := make(chan struct{})
	e.enqueue(&sourcetest.Source{
		Steps: []sourcetest.Step{
			sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
			sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
		},
		BlockAfter: 1,
		Release:    release,
	})

	ctx := context.Background()
	job := core.SyncJob{ID: uuid.New(), SyncID: e.syn.ID, Status: core.JobPending}
	created, err := e.stores.Jobs.CreatePending(ctx, &job)
	require.NoError(t, err)
	require.True(t, created)

	rt := NewInProcessRuntime(e.eng, 1)
	require.NoError(t, rt.Submit(ctx, job.ID))

	require.Eventually(t, func() bool {
		j, err := e.stores.Jobs.Get(ctx, job.ID)
		return err == nil && j.Status == core.JobInProgress
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Cancel(ctx, job.ID))
	rt.Drain()

	final, err := e.stores.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, final.Status)

	// No watermark from a cancelled run.
	cursor, err := e.stores.Cursors.Get(ctx, e.conn.ID)
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t, false)

	ctx := context.Background()
	job := core.SyncJob{ID: uuid.New(), SyncID: e.syn.ID, Status: core.JobPending}
	created, err := e.stores.Jobs.CreatePending(ctx, &job)
	require.NoError(t, err)
	require.True(t, created)

	rt := NewInProcessRuntime(e.eng, 1)
	require.NoError(t, rt.Cancel(ctx, job.ID))

	final, err := e.stores.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, final.Status)
}

func TestQuotaExhaustionStopsProducer(t *testing.T) {
	t.Parallel()
	e := newEnv(t, true)
	ctx := context.Background()

	one := int64(1)
	period := core.BillingPeriod{
		ID:             uuid.New(),
		OrganizationID: e.org.ID,
		Status:         core.BillingActive,
		PeriodStart:    time.Now().Add(-time.Hour),
		PeriodEnd:      time.Now().Add(time.Hour),
		MaxEntities:    &one,
	}
	require.NoError(t, e.stores.Billing.CreatePeriod(ctx, &period))

	e.enqueue(&sourcetest.Source{Steps: []sourcetest.Step{
		sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
		sourcetest.Emit(sourcetest.Chunk("b", "beta text")),
		sourcetest.Emit(sourcetest.Chunk("c", "gamma text")),
	}})

	job := e.runJob(t)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Contains(t, job.Error, "usage limit exceeded")
}

func TestPaymentRequiredBlocksIngestion(t *testing.T) {
	t.Parallel()
	e := newEnv(t, true)
	ctx := context.Background()

	period := core.BillingPeriod{
		ID:             uuid.New(),
		OrganizationID: e.org.ID,
		Status:         core.BillingEndedUnpaid,
		PeriodStart:    time.Now().Add(-time.Hour),
		PeriodEnd:      time.Now().Add(time.Hour),
	}
	require.NoError(t, e.stores.Billing.CreatePeriod(ctx, &period))

	e.enqueue(&sourcetest.Source{Steps: []sourcetest.Step{
		sourcetest.Emit(sourcetest.Chunk("a", "alpha text")),
	}})

	job := e.runJob(t)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Contains(t, job.Error, "payment required")
}
