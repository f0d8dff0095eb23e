// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package syncs manages sync definitions and their manual control surface:
// create with a default routing DAG, trigger a run, cancel a job, and
// subscribe to live progress.
package syncs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/dag"
	"github.com/airweave/airweave-go/pkg/engine"
	"github.com/airweave/airweave-go/pkg/metastore"
	"github.com/airweave/airweave-go/pkg/pubsub"
	"github.com/airweave/airweave-go/pkg/scheduler"
)

// Service manages sync definitions and jobs.
type Service struct {
	syncs       metastore.SyncStore
	jobs        metastore.JobStore
	dags        metastore.DagStore
	connections metastore.ConnectionStore
	runtime     engine.Runtime
	bus         pubsub.Bus
	log         *slog.Logger
}

// New builds a sync service.
func New(stores *metastore.Stores, runtime engine.Runtime, bus pubsub.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		syncs:       stores.Syncs,
		jobs:        stores.Jobs,
		dags:        stores.Dags,
		connections: stores.Connections,
		runtime:     runtime,
		bus:         bus,
		log:         log,
	}
}

// CreateRequest describes one new sync.
type CreateRequest struct {
	Name         string
	ConnectionID uuid.UUID

	// CronSchedule is a five-field cron expression; nil makes the sync
	// manual-only.
	CronSchedule *string
}

// Create validates the request, persists the sync, and saves its default
// routing DAG.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, req CreateRequest) (core.Sync, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return core.Sync{}, fmt.Errorf("%w: sync name is required", core.ErrValidation)
	}
	if req.CronSchedule != nil {
		if err := scheduler.ValidateCron(*req.CronSchedule); err != nil {
			return core.Sync{}, err
		}
	}

	conn, err := s.connections.Get(ctx, orgID, req.ConnectionID)
	if err != nil {
		return core.Sync{}, fmt.Errorf("resolving connection: %w", err)
	}
	if conn.Status == core.ConnectionPendingAuth {
		return core.Sync{}, fmt.Errorf("%w: connection %s is awaiting authentication", core.ErrValidation, conn.ID)
	}

	syn := core.Sync{
		ID:                 uuid.New(),
		Name:               req.Name,
		OrganizationID:     orgID,
		SourceConnectionID: conn.ID,
		Status:             core.SyncActive,
		CronSchedule:       req.CronSchedule,
	}
	if err := s.syncs.Create(ctx, &syn); err != nil {
		return core.Sync{}, fmt.Errorf("creating sync: %w", err)
	}

	d, err := dag.BuildDefault(syn.ID, conn.ShortName, nil)
	if err != nil {
		return core.Sync{}, fmt.Errorf("building dag: %w", err)
	}
	if err := s.dags.Save(ctx, d); err != nil {
		return core.Sync{}, fmt.Errorf("saving dag: %w", err)
	}

	s.log.Info("sync created", "sync_id", syn.ID.String(), "connection_id", conn.ID.String(),
		"scheduled", req.CronSchedule != nil)
	return syn, nil
}

// Get returns one sync scoped to the organization.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (core.Sync, error) {
	return s.syncs.Get(ctx, orgID, id)
}

// Run triggers a manual job. While a pending or in-progress job exists the
// trigger fails with core.ErrAlreadyExists; the caller can watch or cancel
// the running job instead.
func (s *Service) Run(ctx context.Context, orgID, syncID uuid.UUID) (core.SyncJob, error) {
	syn, err := s.syncs.Get(ctx, orgID, syncID)
	if err != nil {
		return core.SyncJob{}, err
	}

	job := core.SyncJob{ID: uuid.New(), SyncID: syn.ID, Status: core.JobPending}
	created, err := s.jobs.CreatePending(ctx, &job)
	if err != nil {
		return core.SyncJob{}, fmt.Errorf("creating job: %w", err)
	}
	if !created {
		return core.SyncJob{}, fmt.Errorf("%w: sync %s already has an active job", core.ErrAlreadyExists, syncID)
	}

	if err := s.runtime.Submit(ctx, job.ID); err != nil {
		// The job row stays pending; a scheduled sync's next tick picks it
		// up, a manual-only sync needs another Run after Cancel.
		return job, fmt.Errorf("starting job: %w", err)
	}

	s.log.Info("manual sync run started", "sync_id", syncID.String(), "job_id", job.ID.String())
	return job, nil
}

// Cancel stops a job. Pending jobs are marked cancelled directly; running
// jobs are cancelled cooperatively and reach their terminal state through
// the engine.
func (s *Service) Cancel(ctx context.Context, orgID, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	// Scope check through the owning sync.
	if _, err := s.syncs.Get(ctx, orgID, job.SyncID); err != nil {
		return err
	}
	return s.runtime.Cancel(ctx, jobID)
}

// Jobs lists a sync's jobs, most recent first.
func (s *Service) Jobs(ctx context.Context, orgID, syncID uuid.UUID, limit int) ([]core.SyncJob, error) {
	if _, err := s.syncs.Get(ctx, orgID, syncID); err != nil {
		return nil, err
	}
	return s.jobs.List(ctx, syncID, limit)
}

// Job returns one job scoped through its sync.
func (s *Service) Job(ctx context.Context, orgID, jobID uuid.UUID) (core.SyncJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return core.SyncJob{}, err
	}
	if _, err := s.syncs.Get(ctx, orgID, job.SyncID); err != nil {
		return core.SyncJob{}, err
	}
	return job, nil
}

// Subscribe attaches to a job's live progress stream.
func (s *Service) Subscribe(ctx context.Context, orgID, jobID uuid.UUID) (*pubsub.Subscription, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("%w: no progress bus configured", core.ErrValidation)
	}
	if _, err := s.Job(ctx, orgID, jobID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, jobID)
}

// Delete removes a sync and its DAG. Syncs with a pending or running job
// cannot be deleted; cancel the job first.
func (s *Service) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	if _, err := s.syncs.Get(ctx, orgID, id); err != nil {
		return err
	}
	busy, err := s.jobs.HasNonTerminal(ctx, id)
	if err != nil {
		return fmt.Errorf("checking jobs: %w", err)
	}
	if busy {
		return fmt.Errorf("%w: sync %s has an active job", core.ErrValidation, id)
	}

	if err := s.dags.DeleteBySync(ctx, id); err != nil {
		return fmt.Errorf("deleting dag: %w", err)
	}
	if err := s.syncs.Delete(ctx, orgID, id); err != nil {
		return fmt.Errorf("deleting sync: %w", err)
	}
	s.log.Info("sync deleted", "sync_id", id.String())
	return nil
}
