// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package core holds the shared domain model for airweave: organizations,
// collections, source connections, syncs, jobs, usage, and the domain error
// taxonomy. These are the concepts that cross bounded contexts; everything
// else lives in its own package.
package core

import (
	"time"

	"github.com/google/uuid"
)

// AuthContext identifies the caller of an operation. Every externally
// reachable operation is scoped to the organization in its AuthContext.
type AuthContext struct {
	OrganizationID uuid.UUID
	UserID         string
}

// Organization owns collections, connections, and a billing profile.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Collection is a named container of ingested data, bound 1:1 to a vector
// store namespace keyed by the collection UUID. ReadableID is the
// human-friendly handle used in APIs ("finance-docs-ab123").
type Collection struct {
	ID             uuid.UUID
	ReadableID     string
	Name           string
	OrganizationID uuid.UUID
	CreatedAt      time.Time
	ModifiedAt     time.Time
}

// AuthVariant is the authentication mechanism of a source connection.
// Exactly one variant applies per connection.
type AuthVariant string

const (
	// AuthDirect uses static credential fields (API key, username/password),
	// encrypted at rest.
	AuthDirect AuthVariant = "direct"

	// AuthOAuthBrowser is the user-interactive OAuth flow. The connection
	// stays in StatusPendingAuth until the callback completes.
	AuthOAuthBrowser AuthVariant = "oauth_browser"

	// AuthOAuthToken means the caller supplied an access token (and
	// optionally a refresh token) out of band.
	AuthOAuthToken AuthVariant = "oauth_token"

	// AuthProvider means credentials are brokered by a third-party identity
	// provider. May degrade to proxy mode when the provider refuses to
	// disclose raw credentials.
	AuthProvider AuthVariant = "auth_provider"
)

// SourceConnectionStatus is the lifecycle state of a source connection.
type SourceConnectionStatus string

const (
	// ConnectionPendingAuth means an OAuth browser flow was started but the
	// callback has not completed yet.
	ConnectionPendingAuth SourceConnectionStatus = "pending_auth"

	// ConnectionActive means the connection is usable for syncs.
	ConnectionActive SourceConnectionStatus = "active"

	// ConnectionDegraded means the last token refresh failed unrecoverably;
	// syncs fail until the user re-authenticates.
	ConnectionDegraded SourceConnectionStatus = "degraded"
)

// SourceConnection binds a source kind, credentials, optional per-connection
// config, a target collection, and an optional schedule to an organization.
type SourceConnection struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string

	// ShortName identifies the connector kind ("postgresql", "github").
	ShortName string

	CollectionID uuid.UUID
	AuthVariant  AuthVariant
	Status       SourceConnectionStatus

	// CredentialID references the encrypted IntegrationCredential.
	// Nil while an OAuth browser flow is pending, and for auth_provider
	// connections where the provider holds the credentials.
	CredentialID *uuid.UUID

	// AuthProviderName names the brokering provider for auth_provider
	// connections, empty otherwise.
	AuthProviderName string

	// Config carries per-connection settings such as template fields
	// ("subdomain") and connector options.
	Config map[string]any

	// CursorField overrides the connector's default incremental field.
	CursorField string

	// Cursor is the per-stream watermark map persisted between jobs.
	// JSON-safe scalar values only.
	Cursor map[string]any

	SyncID *uuid.UUID

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IntegrationCredential holds the encrypted auth material for a connection.
// Fields are an AES-GCM sealed JSON object, decrypted on demand and held in
// memory only for the duration of a job or a search.
type IntegrationCredential struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	SourceShortName string
	AuthVariant     AuthVariant
	EncryptedFields []byte
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

// SyncStatus is the lifecycle state of a sync plan.
type SyncStatus string

const (
	// SyncActive means the scheduler considers the sync for cron triggering.
	SyncActive SyncStatus = "active"
	// SyncInactive means the sync is paused; manual runs are still allowed.
	SyncInactive SyncStatus = "inactive"
)

// Sync is a durable plan: a source connection, a routing DAG, and a cron
// schedule. NextScheduledRun is naive UTC, monotonically updated by the
// scheduler.
type Sync struct {
	ID                 uuid.UUID
	Name               string
	OrganizationID     uuid.UUID
	SourceConnectionID uuid.UUID
	Status             SyncStatus

	// CronSchedule is a five-field cron expression, nil for manual-only syncs.
	CronSchedule *string

	NextScheduledRun *time.Time

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// SyncJobStatus is the lifecycle state of one sync execution.
type SyncJobStatus string

const (
	// JobPending means the job is created but not yet picked up by a runner.
	JobPending SyncJobStatus = "pending"
	// JobInProgress means the engine is streaming entities.
	JobInProgress SyncJobStatus = "in_progress"
	// JobCompleted is terminal success.
	JobCompleted SyncJobStatus = "completed"
	// JobFailed is terminal failure; the cursor is not advanced.
	JobFailed SyncJobStatus = "failed"
	// JobCancelled is terminal cancellation; the cursor is not advanced.
	JobCancelled SyncJobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s SyncJobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobStats are the per-job counters surfaced in progress updates and
// persisted on terminal transition.
type JobStats struct {
	EntitiesProcessed int64 `json:"entities_processed"`
	Inserted          int64 `json:"inserted"`
	Updated           int64 `json:"updated"`
	Skipped           int64 `json:"skipped"`
	Deleted           int64 `json:"deleted"`
	Failed            int64 `json:"failed"`
}

// SyncJob is one execution of a Sync. At most one non-terminal job exists
// per sync at any time; the scheduler enforces this transactionally.
type SyncJob struct {
	ID     uuid.UUID
	SyncID uuid.UUID
	Status SyncJobStatus
	Stats  JobStats

	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string

	CreatedAt time.Time
}

// SyncJobUpdate is the progress event published to job subscribers.
// Events for a job are emitted in monotonic order per subscriber.
type SyncJobUpdate struct {
	JobID     uuid.UUID     `json:"job_id"`
	SyncID    uuid.UUID     `json:"sync_id"`
	Status    SyncJobStatus `json:"status"`
	Stats     JobStats      `json:"stats"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Action is a billable action type admitted by the quota guard.
type Action string

const (
	// ActionEntities counts entities written during syncs.
	ActionEntities Action = "entities"
	// ActionQueries counts search requests.
	ActionQueries Action = "queries"
	// ActionSourceConnections counts live source connections.
	ActionSourceConnections Action = "source_connections"
	// ActionTeamMembers is derived live from membership, never accumulated.
	ActionTeamMembers Action = "team_members"
)

// BillingPeriodStatus gates which actions are admissible regardless of
// numeric limits.
type BillingPeriodStatus string

const (
	// BillingActive is a paid, current period.
	BillingActive BillingPeriodStatus = "active"
	// BillingTrial is an unexpired trial.
	BillingTrial BillingPeriodStatus = "trial"
	// BillingGrace follows a failed payment; new source connections are blocked.
	BillingGrace BillingPeriodStatus = "grace"
	// BillingEndedUnpaid blocks ingestion and new source connections.
	BillingEndedUnpaid BillingPeriodStatus = "ended_unpaid"
	// BillingCompleted is a closed period; all billable actions are blocked.
	BillingCompleted BillingPeriodStatus = "completed"
)

// BillingPeriod is one billing window for an organization with its plan
// limits. A nil limit means unlimited.
type BillingPeriod struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Status         BillingPeriodStatus
	PeriodStart    time.Time
	PeriodEnd      time.Time

	MaxEntities          *int64
	MaxQueries           *int64
	MaxSourceConnections *int64
	MaxTeamMembers       *int64
}

// Usage holds per-period accumulated counters. TeamMembers is intentionally
// absent: it is derived live.
type Usage struct {
	OrganizationID    uuid.UUID
	BillingPeriodID   uuid.UUID
	Entities          int64
	Queries           int64
	SourceConnections int64
	UpdatedAt         time.Time
}
