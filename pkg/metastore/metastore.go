// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metastore defines the relational persistence contracts for the
// ingestion core: organizations, collections, source connections,
// credentials, syncs, jobs, DAGs, cursors, entity hash state and billing.
//
// Lookups that take an organization id are scoped to it and return
// core.ErrNotFound for rows owned by other organizations, so callers can
// surface uniform 404s without leaking cross-tenant existence.
package metastore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/dag"
)

// OrganizationStore persists organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *core.Organization) error
	Get(ctx context.Context, id uuid.UUID) (core.Organization, error)
	List(ctx context.Context) ([]core.Organization, error)
}

// CollectionStore persists collections. The readable id is unique across
// organizations; the UUID names the vector store namespace.
type CollectionStore interface {
	Create(ctx context.Context, c *core.Collection) error
	Get(ctx context.Context, orgID, id uuid.UUID) (core.Collection, error)
	GetByReadableID(ctx context.Context, orgID uuid.UUID, readableID string) (core.Collection, error)
	List(ctx context.Context, orgID uuid.UUID) ([]core.Collection, error)
	// ListAll spans organizations; used by orphaned-namespace detection.
	ListAll(ctx context.Context) ([]core.Collection, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// ConnectionStore persists source connections.
type ConnectionStore interface {
	Create(ctx context.Context, conn *core.SourceConnection) error
	Get(ctx context.Context, orgID, id uuid.UUID) (core.SourceConnection, error)
	List(ctx context.Context, orgID uuid.UUID) ([]core.SourceConnection, error)
	ListByCollection(ctx context.Context, orgID, collectionID uuid.UUID) ([]core.SourceConnection, error)
	Update(ctx context.Context, conn *core.SourceConnection) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// CredentialStore persists encrypted integration credentials. Only the
// ciphertext ever reaches the store.
type CredentialStore interface {
	Create(ctx context.Context, cred *core.IntegrationCredential) error
	Get(ctx context.Context, orgID, id uuid.UUID) (core.IntegrationCredential, error)
	// UpdateFields atomically replaces the ciphertext, used when a provider
	// rotates the refresh token.
	UpdateFields(ctx context.Context, orgID, id uuid.UUID, encryptedFields []byte) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// SyncStore persists sync definitions and their schedule bookkeeping.
type SyncStore interface {
	Create(ctx context.Context, s *core.Sync) error
	Get(ctx context.Context, orgID, id uuid.UUID) (core.Sync, error)
	// GetByID is unscoped, for the scheduler and engine internals.
	GetByID(ctx context.Context, id uuid.UUID) (core.Sync, error)
	// ListScheduled returns active syncs that carry a cron schedule.
	ListScheduled(ctx context.Context) ([]core.Sync, error)
	Update(ctx context.Context, s *core.Sync) error
	SetNextScheduledRun(ctx context.Context, id uuid.UUID, next time.Time) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// JobStore persists sync jobs.
type JobStore interface {
	// CreatePending inserts the job only if the sync has no pending or
	// in-progress job. The check and insert share one transaction; two
	// concurrent callers observing the same due sync produce exactly one
	// job. Returns false when an existing non-terminal job blocked it.
	CreatePending(ctx context.Context, job *core.SyncJob) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (core.SyncJob, error)
	List(ctx context.Context, syncID uuid.UUID, limit int) ([]core.SyncJob, error)
	// Latest returns the most recently created job for a sync.
	Latest(ctx context.Context, syncID uuid.UUID) (core.SyncJob, error)
	HasNonTerminal(ctx context.Context, syncID uuid.UUID) (bool, error)
	Update(ctx context.Context, job *core.SyncJob) error
}

// DagStore persists sync DAGs as serialized node and edge lists.
type DagStore interface {
	Save(ctx context.Context, d *dag.Dag) error
	GetBySync(ctx context.Context, syncID uuid.UUID) (*dag.Dag, error)
	DeleteBySync(ctx context.Context, syncID uuid.UUID) error
}

// CursorStore persists incremental-sync cursors per source connection.
type CursorStore interface {
	// Get returns nil with no error when no cursor has been written yet.
	Get(ctx context.Context, connectionID uuid.UUID) (map[string]any, error)
	Set(ctx context.Context, connectionID uuid.UUID, cursor map[string]any) error
	Delete(ctx context.Context, connectionID uuid.UUID) error
}

// EntityState is the per-entity bookkeeping from the last successful run,
// used to decide insert, update, skip and delete on the next run.
type EntityState struct {
	EntityID   string
	Hash       string
	ChunkCount int
}

// EntityStateStore persists content hashes per sync.
type EntityStateStore interface {
	Load(ctx context.Context, syncID uuid.UUID) (map[string]EntityState, error)
	Upsert(ctx context.Context, syncID uuid.UUID, states []EntityState) error
	Delete(ctx context.Context, syncID uuid.UUID, entityIDs []string) error
	Clear(ctx context.Context, syncID uuid.UUID) error
}

// BillingStore persists billing periods and usage counters.
type BillingStore interface {
	CreatePeriod(ctx context.Context, p *core.BillingPeriod) error
	// CurrentPeriod returns the period covering now. core.ErrNotFound means
	// the organization predates billing and bypasses quota enforcement.
	CurrentPeriod(ctx context.Context, orgID uuid.UUID) (core.BillingPeriod, error)
	Usage(ctx context.Context, orgID, periodID uuid.UUID) (core.Usage, error)
	// AddUsage atomically adds delta to one action counter and returns the
	// fresh row, so in-memory snapshots can be refreshed from the same
	// round trip.
	AddUsage(ctx context.Context, orgID, periodID uuid.UUID, action core.Action, delta int64) (core.Usage, error)
}

// Stores bundles every persistence contract the core consumes.
type Stores struct {
	Organizations OrganizationStore
	Collections   CollectionStore
	Connections   ConnectionStore
	Credentials   CredentialStore
	Syncs         SyncStore
	Jobs          JobStore
	Dags          DagStore
	Cursors       CursorStore
	Entities      EntityStateStore
	Billing       BillingStore
}
