// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine runs sync jobs: it streams entities from a connector,
// routes them through the sync DAG, diffs them against the previous run's
// content hashes, and writes the resulting points to the vector store with
// bounded concurrency. One Engine serves the process; each job run holds
// its own state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/dag"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/metastore"
	"github.com/airweave/airweave-go/pkg/pubsub"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/sources"
	"github.com/airweave/airweave-go/pkg/telemetry"
	"github.com/airweave/airweave-go/pkg/transform"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

const (
	defaultWorkers       = 4
	defaultBatchSize     = 32
	defaultQueuePerShard = 16
	progressInterval     = 2 * time.Second
)

// Config wires an Engine.
type Config struct {
	Stores   metastore.Stores
	Vectors  vectorstore.Store
	Embedder *transform.Embedder
	Quota    *quota.Guard
	Bus      pubsub.Bus

	Sources  *sources.Registry
	Entities *entity.Registry

	// Box opens encrypted credential fields. Required unless every
	// connection uses an auth provider.
	Box *auth.Box

	// Providers resolves auth_provider connections. May be nil.
	Providers *auth.ProviderRegistry

	// Transformers backs DAG transformer nodes by name.
	Transformers map[string]dag.Transformer

	FileChunker    dag.Transformer
	CodeChunker    dag.Transformer
	CodeSummarizer dag.Transformer
	FieldChunker   dag.Transformer

	// Workers is the transformer/upsert pool size per job.
	Workers int

	// BatchSize is how many terminal entities accumulate per worker before
	// an embed + upsert flush.
	BatchSize int

	Logger *slog.Logger
}

// Engine executes sync jobs.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New validates the config and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Vectors == nil || cfg.Embedder == nil || cfg.Sources == nil {
		return nil, fmt.Errorf("%w: engine requires vectors, embedder and sources", core.ErrValidation)
	}
	if cfg.Entities == nil {
		cfg.Entities = entity.DefaultRegistry
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, log: cfg.Logger}, nil
}

// run is the per-job state shared by the producer, the workers, and the
// progress publisher.
type run struct {
	job        core.SyncJob
	sync       core.Sync
	connection core.SourceConnection
	collection core.Collection

	prev map[string]metastore.EntityState

	processed atomic.Int64
	inserted  atomic.Int64
	updated   atomic.Int64
	skipped   atomic.Int64
	deleted   atomic.Int64
	failed    atomic.Int64

	mu   sync.Mutex
	seen map[string]metastore.EntityState
	gone map[string]struct{}
}

func (r *run) stats() core.JobStats {
	return core.JobStats{
		EntitiesProcessed: r.processed.Load(),
		Inserted:          r.inserted.Load(),
		Updated:           r.updated.Load(),
		Skipped:           r.skipped.Load(),
		Deleted:           r.deleted.Load(),
		Failed:            r.failed.Load(),
	}
}

// Run executes one job to a terminal state. The returned error reports why
// the job failed; the job row and a final progress update always record the
// outcome. Cancelling ctx transitions the job to cancelled.
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID) error {
	st := e.cfg.Stores

	job, err := st.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s already %s", core.ErrValidation, jobID, job.Status)
	}

	syn, err := st.Syncs.GetByID(ctx, job.SyncID)
	if err != nil {
		return fmt.Errorf("loading sync %s: %w", job.SyncID, err)
	}
	conn, err := st.Connections.Get(ctx, syn.OrganizationID, syn.SourceConnectionID)
	if err != nil {
		return fmt.Errorf("loading connection: %w", err)
	}
	coll, err := st.Collections.Get(ctx, syn.OrganizationID, conn.CollectionID)
	if err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}

	r := &run{
		job:        job,
		sync:       syn,
		connection: conn,
		collection: coll,
		seen:       make(map[string]metastore.EntityState),
		gone:       make(map[string]struct{}),
	}

	now := time.Now().UTC()
	r.job.Status = core.JobInProgress
	r.job.StartedAt = &now
	if err := st.Jobs.Update(ctx, &r.job); err != nil {
		return fmt.Errorf("marking job in progress: %w", err)
	}
	e.publish(ctx, r, "sync started")

	runErr := e.execute(ctx, r)

	// Partial usage is billed even when the job fails.
	if e.cfg.Quota != nil {
		if err := e.cfg.Quota.FlushAll(context.WithoutCancel(ctx), syn.OrganizationID); err != nil {
			e.log.Error("flushing quota after job", "job_id", jobID.String(), "error", err)
		}
	}

	finishCtx := context.WithoutCancel(ctx)
	done := time.Now().UTC()
	r.job.CompletedAt = &done
	r.job.Stats = r.stats()

	switch {
	case runErr == nil:
		r.job.Status = core.JobCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, core.ErrCancelled):
		r.job.Status = core.JobCancelled
		r.job.Error = "cancelled"
	default:
		r.job.Status = core.JobFailed
		r.job.Error = runErr.Error()
	}

	if err := st.Jobs.Update(finishCtx, &r.job); err != nil {
		e.log.Error("recording job outcome", "job_id", jobID.String(), "error", err)
	}
	telemetry.RecordJobOutcome(string(r.job.Status),
		r.job.Stats.Inserted, r.job.Stats.Updated, r.job.Stats.Skipped, r.job.Stats.Deleted, r.job.Stats.Failed)
	e.publish(finishCtx, r, r.job.Error)

	return runErr
}

// execute runs the entity stream to completion. The cursor and the entity
// state table are committed only on success.
func (e *Engine) execute(ctx context.Context, r *run) error {
	st := e.cfg.Stores

	dagDef, err := st.Dags.GetBySync(ctx, r.sync.ID)
	if err != nil {
		return fmt.Errorf("loading dag: %w", err)
	}

	prev, err := st.Entities.Load(ctx, r.sync.ID)
	if err != nil {
		return fmt.Errorf("loading entity state: %w", err)
	}
	r.prev = prev

	cursor, err := st.Cursors.Get(ctx, r.connection.ID)
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}

	src, err := e.buildSource(ctx, r, cursor)
	if err != nil {
		return err
	}

	router, err := dag.NewRouter(dag.RouterConfig{
		Dag:            dagDef,
		Registry:       e.cfg.Entities,
		Logger:         e.log,
		Transformers:   e.cfg.Transformers,
		FileChunker:    e.cfg.FileChunker,
		CodeChunker:    e.cfg.CodeChunker,
		CodeSummarizer: e.cfg.CodeSummarizer,
		FieldChunker:   e.cfg.FieldChunker,
	})
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	if err := e.cfg.Vectors.EnsureCollection(ctx, r.collection.ID, e.cfg.Embedder.Dimension()); err != nil {
		return fmt.Errorf("ensuring vector collection: %w", err)
	}

	sourceNode, err := dagDef.SourceNode()
	if err != nil {
		return err
	}

	if err := e.stream(ctx, r, src, router, sourceNode.ID); err != nil {
		return err
	}

	if err := e.applyDeletes(ctx, r); err != nil {
		return err
	}

	states := make([]metastore.EntityState, 0, len(r.seen))
	r.mu.Lock()
	for _, s := range r.seen {
		states = append(states, s)
	}
	r.mu.Unlock()
	if err := st.Entities.Upsert(ctx, r.sync.ID, states); err != nil {
		return fmt.Errorf("saving entity state: %w", err)
	}

	if cs, ok := src.(sources.CursorSource); ok {
		if snapshot := cs.CursorState(); len(snapshot) > 0 {
			if err := st.Cursors.Set(ctx, r.connection.ID, snapshot); err != nil {
				return fmt.Errorf("committing cursor: %w", err)
			}
		}
	}

	return nil
}

// buildSource resolves credentials per the connection's auth variant and
// constructs the connector instance.
func (e *Engine) buildSource(ctx context.Context, r *run, cursor map[string]any) (sources.Source, error) {
	desc, ok := e.cfg.Sources.Get(r.connection.ShortName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", core.ErrValidation, r.connection.ShortName)
	}
	if err := desc.ValidateConfig(r.connection.Config); err != nil {
		return nil, err
	}

	deps := sources.Deps{
		Config:      cloneMap(r.connection.Config),
		Cursor:      cursor,
		CursorField: r.connection.CursorField,
		Logger:      e.log.With("source", r.connection.ShortName),
	}

	switch r.connection.AuthVariant {
	case core.AuthProvider:
		if e.cfg.Providers == nil {
			return nil, fmt.Errorf("%w: no auth providers configured", core.ErrValidation)
		}
		provider, err := e.cfg.Providers.Get(r.connection.AuthProviderName)
		if err != nil {
			return nil, err
		}
		result, err := provider.Resolve(ctx, r.connection.ShortName, r.connection.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving provider credentials: %w", core.ErrAuthFailed, err)
		}
		switch result.Mode {
		case auth.CredentialDirect:
			deps.Credentials = result.Fields
		case auth.CredentialProxy:
			// The provider keeps the credentials; route the connector's
			// API calls through its proxy.
			deps.Config["proxy_url"] = result.ProxyURL
			headers := make(map[string]any, len(result.ProxyHeaders))
			for k, v := range result.ProxyHeaders {
				headers[k] = v
			}
			deps.Config["proxy_headers"] = headers
		default:
			return nil, fmt.Errorf("%w: provider returned unknown credential mode %q", core.ErrInvariant, result.Mode)
		}

	default:
		if r.connection.CredentialID == nil {
			return nil, fmt.Errorf("%w: connection %s has no credential", core.ErrValidation, r.connection.ID)
		}
		cred, err := e.cfg.Stores.Credentials.Get(ctx, r.connection.OrganizationID, *r.connection.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("loading credential: %w", err)
		}
		fields, err := e.cfg.Box.Open(cred.EncryptedFields)
		if err != nil {
			return nil, err
		}
		deps.Credentials = fields

		if r.connection.AuthVariant == core.AuthOAuthBrowser || r.connection.AuthVariant == core.AuthOAuthToken {
			deps.Tokens = e.tokenManager(r, cred.ID, fields)
		}
	}

	src, err := desc.New(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("constructing source %s: %w", r.connection.ShortName, err)
	}
	return src, nil
}

// tokenManager builds the per-connection token manager. A rotated refresh
// token is re-sealed and written through the credential store before it
// becomes visible.
func (e *Engine) tokenManager(r *run, credID uuid.UUID, fields map[string]any) *auth.TokenManager {
	access, _ := fields[auth.FieldAccessToken].(string)
	refresh, _ := fields[auth.FieldRefreshToken].(string)

	var expiry time.Time
	if raw, ok := fields[auth.FieldExpiresAt].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			expiry = t
		}
	}

	var oauthCfg *oauth2.Config
	if tokenURL, ok := r.connection.Config["token_url"].(string); ok && tokenURL != "" {
		clientID, _ := r.connection.Config["client_id"].(string)
		clientSecret, _ := r.connection.Config["client_secret"].(string)
		oauthCfg = &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
	}

	orgID := r.connection.OrganizationID
	persist := func(ctx context.Context, accessToken, refreshToken string, exp time.Time) error {
		updated := cloneMap(fields)
		updated[auth.FieldAccessToken] = accessToken
		updated[auth.FieldRefreshToken] = refreshToken
		if !exp.IsZero() {
			updated[auth.FieldExpiresAt] = exp.UTC().Format(time.RFC3339)
		}
		sealed, err := e.cfg.Box.Seal(updated)
		if err != nil {
			return err
		}
		return e.cfg.Stores.Credentials.UpdateFields(ctx, orgID, credID, sealed)
	}

	return auth.NewTokenManager(oauthCfg, access, refresh, expiry, persist)
}

// stream drains the connector through the worker pool. Entities shard onto
// workers by entity id, so writes for the same point are serialized within
// the job.
func (e *Engine) stream(ctx context.Context, r *run, src sources.Source, router *dag.Router, sourceNodeID uuid.UUID) error {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	stream, err := src.Stream(streamCtx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				e.publish(ctx, r, "")
			}
		}
	}()
	defer close(progressDone)

	workers := e.cfg.Workers
	shards := make([]chan *entity.Entity, workers)
	for i := range shards {
		shards[i] = make(chan *entity.Entity, defaultQueuePerShard)
	}

	g, gctx := errgroup.WithContext(streamCtx)
	for i := range workers {
		shard := shards[i]
		g.Go(func() error {
			return e.worker(gctx, r, router, sourceNodeID, shard)
		})
	}

	var produceErr error
produce:
	for item := range stream.Items() {
		if item.Err != nil {
			if errors.Is(item.Err, core.ErrGone) {
				// Source-side deletion: drop the corresponding points
				// after the stream completes.
				if id := goneEntityID(item.Err); id != "" {
					r.mu.Lock()
					r.gone[id] = struct{}{}
					r.mu.Unlock()
				} else {
					e.log.Warn("gone entity without id, nothing to delete",
						"job_id", r.job.ID.String(), "error", item.Err)
				}
			} else {
				r.failed.Add(1)
				e.log.Warn("entity skipped", "job_id", r.job.ID.String(), "error", item.Err)
			}
			continue
		}

		ent := item.Entity
		if e.cfg.Quota != nil {
			if err := e.cfg.Quota.Allowed(gctx, r.sync.OrganizationID, core.ActionEntities, 1); err != nil {
				produceErr = err
				stop()
				break produce
			}
		}

		e.stamp(r, ent)
		shard := shardFor(ent.EntityID, workers)
		select {
		case shards[shard] <- ent:
		case <-gctx.Done():
			break produce
		}
	}
	for _, ch := range shards {
		close(ch)
	}

	workerErr := g.Wait()

	if produceErr != nil {
		return produceErr
	}
	if workerErr != nil {
		return workerErr
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("source stream: %w", err)
	}
	return ctx.Err()
}

// stamp writes system metadata onto a source-produced entity.
func (e *Engine) stamp(r *run, ent *entity.Entity) {
	ent.SourceName = r.connection.ShortName
	ent.SyncID = r.sync.ID
	ent.SyncJobID = r.job.ID
	if ent.UpdatedAt.IsZero() {
		ent.UpdatedAt = time.Now().UTC()
	}
}

// worker processes one shard of the entity stream: diff against the last
// run, route through the DAG, and batch embed + upsert. Per-entity failures
// are counted and logged; the stream continues.
func (e *Engine) worker(ctx context.Context, r *run, router *dag.Router, sourceNodeID uuid.UUID, in <-chan *entity.Entity) error {
	batch := newUpsertBatch(e.cfg.BatchSize)

	for ent := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.processed.Add(1)

		hash, err := ent.ContentHash()
		if err != nil {
			r.failed.Add(1)
			e.log.Warn("entity hash failed", "entity_id", ent.EntityID, "error", err)
			continue
		}

		prev, existed := r.prev[ent.EntityID]
		if existed && prev.Hash == hash {
			r.skipped.Add(1)
			r.mu.Lock()
			r.seen[ent.EntityID] = prev
			r.mu.Unlock()
			continue
		}

		terminals, err := router.Process(ctx, sourceNodeID, ent)
		if err != nil {
			if errors.Is(err, core.ErrCancelled) || errors.Is(err, context.Canceled) {
				return err
			}
			r.failed.Add(1)
			e.log.Warn("entity transform failed", "entity_id", ent.EntityID, "error", err)
			continue
		}

		chunkCount := len(terminals)
		// No terminal content anymore, e.g. a file that turned binary
		// under the skip policy. Drop every previous chunk now and leave
		// the entity unseen so the post-stream sweep clears its state row.
		if chunkCount == 0 {
			if existed {
				stale := entity.PointIDs(r.collection.ID, ent.EntityID, prev.ChunkCount)
				if err := e.cfg.Vectors.Delete(ctx, r.collection.ID, stale); err != nil {
					return fmt.Errorf("deleting stale chunks of %s: %w", ent.EntityID, err)
				}
			} else {
				r.skipped.Add(1)
			}
			continue
		}
		// A shrinking split leaves stale tail chunks behind; drop them.
		if existed && prev.ChunkCount > chunkCount {
			stale := stalePointIDs(r.collection.ID, ent.EntityID, chunkCount, prev.ChunkCount)
			if err := e.cfg.Vectors.Delete(ctx, r.collection.ID, stale); err != nil {
				return fmt.Errorf("deleting stale chunks of %s: %w", ent.EntityID, err)
			}
		}

		batch.add(sourceEntity{
			id:        ent.EntityID,
			hash:      hash,
			updated:   existed,
			terminals: terminals,
		})
		if batch.full() {
			if err := e.flush(ctx, r, batch); err != nil {
				return err
			}
		}
	}

	return e.flush(ctx, r, batch)
}

// sourceEntity groups the terminal entities of one source record through a
// batch flush.
type sourceEntity struct {
	id        string
	hash      string
	updated   bool
	terminals []*entity.Entity
}

type upsertBatch struct {
	limit     int
	entities  []sourceEntity
	terminals int
}

func newUpsertBatch(limit int) *upsertBatch {
	return &upsertBatch{limit: limit}
}

func (b *upsertBatch) add(se sourceEntity) {
	b.entities = append(b.entities, se)
	b.terminals += len(se.terminals)
}

func (b *upsertBatch) full() bool { return b.terminals >= b.limit }

// flush embeds and upserts one batch, then settles counters, quota, and the
// seen-state map for every source entity the batch completed.
func (e *Engine) flush(ctx context.Context, r *run, batch *upsertBatch) error {
	if len(batch.entities) == 0 {
		return nil
	}
	defer func() {
		batch.entities = batch.entities[:0]
		batch.terminals = 0
	}()

	var all []*entity.Entity
	for _, se := range batch.entities {
		all = append(all, se.terminals...)
	}

	if len(all) > 0 {
		if err := e.cfg.Embedder.EmbedBatch(ctx, all); err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		points := make([]vectorstore.Point, len(all))
		for i, t := range all {
			points[i] = vectorstore.PointFromEntity(r.collection.ID, t)
		}
		if err := e.cfg.Vectors.Upsert(ctx, r.collection.ID, points); err != nil {
			return fmt.Errorf("upserting %d points: %w", len(points), err)
		}
	}

	for _, se := range batch.entities {
		if se.updated {
			r.updated.Add(1)
		} else {
			r.inserted.Add(1)
		}
		r.mu.Lock()
		r.seen[se.id] = metastore.EntityState{
			EntityID:   se.id,
			Hash:       se.hash,
			ChunkCount: len(se.terminals),
		}
		r.mu.Unlock()
		if e.cfg.Quota != nil {
			if err := e.cfg.Quota.Increment(ctx, r.sync.OrganizationID, core.ActionEntities, 1); err != nil {
				e.log.Warn("recording entity usage", "error", err)
			}
		}
	}
	return nil
}

// applyDeletes removes points for entities present last run and absent this
// run, plus entities the source reported gone. Runs only after a successful
// end of stream; a job that fails mid-way never deletes.
func (e *Engine) applyDeletes(ctx context.Context, r *run) error {
	var ids []uuid.UUID
	var entityIDs []string

	r.mu.Lock()
	for id, prev := range r.prev {
		_, kept := r.seen[id]
		_, gone := r.gone[id]
		if kept && !gone {
			continue
		}
		entityIDs = append(entityIDs, id)
		ids = append(ids, entity.PointIDs(r.collection.ID, id, prev.ChunkCount)...)
	}
	r.mu.Unlock()

	if len(entityIDs) == 0 {
		return nil
	}

	if err := e.cfg.Vectors.Delete(ctx, r.collection.ID, ids); err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	if err := e.cfg.Stores.Entities.Delete(ctx, r.sync.ID, entityIDs); err != nil {
		return fmt.Errorf("deleting entity state: %w", err)
	}
	r.deleted.Add(int64(len(entityIDs)))
	return nil
}

// publish sends a progress update; failures are logged, never fatal.
func (e *Engine) publish(ctx context.Context, r *run, message string) {
	if e.cfg.Bus == nil {
		return
	}
	update := core.SyncJobUpdate{
		JobID:     r.job.ID,
		SyncID:    r.sync.ID,
		Status:    r.job.Status,
		Stats:     r.stats(),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := e.cfg.Bus.Publish(ctx, update); err != nil {
		e.log.Debug("publishing progress", "job_id", r.job.ID.String(), "error", err)
	}
}

func shardFor(entityID string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(workers))
}

func stalePointIDs(collectionID uuid.UUID, entityID string, from, to int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, entity.PointID(collectionID, entityID, i))
	}
	return ids
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func goneEntityID(err error) string {
	var ge *sources.GoneError
	if errors.As(err, &ge) {
		return ge.EntityID
	}
	return ""
}
