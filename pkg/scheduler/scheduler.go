// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler materializes due cron-triggered syncs into pending jobs
// and hands them to the runtime. A single cooperative loop per process; the
// no-concurrent-non-terminal-job check in the job store makes ticks
// idempotent, so two loops observing the same due state still produce one
// job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/engine"
	"github.com/airweave/airweave-go/pkg/metastore"
)

const (
	defaultTick = time.Second

	// persistDrift is how far the computed next run may drift from the
	// stored value before it is written back.
	persistDrift = time.Second
)

// Scheduler drives cron-triggered syncs.
type Scheduler struct {
	syncs   metastore.SyncStore
	jobs    metastore.JobStore
	runtime engine.Runtime
	tick    time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// Option adjusts a scheduler.
type Option func(*Scheduler)

// WithTick overrides the loop interval, for tests.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler over the sync and job stores.
func New(syncs metastore.SyncStore, jobs metastore.JobStore, runtime engine.Runtime, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		syncs:   syncs,
		jobs:    jobs,
		runtime: runtime,
		tick:    defaultTick,
		now:     time.Now,
		log:     log,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCron rejects schedules the scheduler cannot parse. Five-field
// cron expressions plus the @every descriptors.
func ValidateCron(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("%w: invalid cron schedule %q: %v", core.ErrValidation, schedule, err)
	}
	return nil
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("scheduler started", "tick", s.tick.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick processes every active scheduled sync once.
func (s *Scheduler) Tick(ctx context.Context) error {
	due, err := s.syncs.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("listing scheduled syncs: %w", err)
	}

	var errs []error
	for _, syn := range due {
		if err := s.evaluate(ctx, syn); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", syn.ID, err))
		}
	}
	return errors.Join(errs...)
}

// evaluate decides whether one sync is due, creates its pending job, and
// keeps next_scheduled_run in step.
func (s *Scheduler) evaluate(ctx context.Context, syn core.Sync) error {
	if syn.CronSchedule == nil {
		return nil
	}
	schedule, err := cron.ParseStandard(*syn.CronSchedule)
	if err != nil {
		// Validation should have rejected this at creation; skip rather
		// than spam every tick at error level.
		s.log.Warn("sync has unparsable schedule", "sync_id", syn.ID.String(), "schedule", *syn.CronSchedule)
		return nil
	}

	now := s.now().UTC()

	latest, err := s.jobs.Latest(ctx, syn.ID)
	haveJob := err == nil
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("loading latest job: %w", err)
	}

	next := schedule.Next(now)
	if err := s.persistNextRun(ctx, syn, next); err != nil {
		return err
	}

	// At most one non-terminal job per sync: while one exists, the only
	// work left is retrying a failed handoff.
	if haveJob && !latest.Status.Terminal() {
		return s.retryHandoff(ctx, latest)
	}

	// Due means the schedule has fired since the last job was created. A
	// sync that has never run is not due immediately: its first run waits
	// for the next cron boundary from now.
	if !haveJob || schedule.Next(latest.CreatedAt.UTC()).After(now) {
		return nil
	}

	job := core.SyncJob{ID: uuid.New(), SyncID: syn.ID, Status: core.JobPending}
	created, err := s.jobs.CreatePending(ctx, &job)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	if !created {
		// A non-terminal job exists: a manual run or a previous tick's job
		// still in flight. The invariant holds; nothing to do.
		return nil
	}

	s.log.Info("sync due, job created",
		"sync_id", syn.ID.String(), "job_id", job.ID.String(), "next_run", next.Format(time.RFC3339))

	if err := s.runtime.Submit(ctx, job.ID); err != nil {
		// The job stays pending; the next tick retries the handoff.
		s.log.Error("job handoff failed, will retry", "job_id", job.ID.String(), "error", err)
	}
	return nil
}

// retryHandoff re-submits a pending job whose handoff failed on an earlier
// tick. In-progress jobs are left alone.
func (s *Scheduler) retryHandoff(ctx context.Context, job core.SyncJob) error {
	if job.Status != core.JobPending {
		return nil
	}
	if err := s.runtime.Submit(ctx, job.ID); err != nil {
		s.log.Debug("job handoff retry failed", "job_id", job.ID.String(), "error", err)
	}
	return nil
}

// persistNextRun writes next_scheduled_run when it drifted past tolerance.
func (s *Scheduler) persistNextRun(ctx context.Context, syn core.Sync, next time.Time) error {
	if syn.NextScheduledRun != nil {
		drift := next.Sub(syn.NextScheduledRun.UTC())
		if drift < 0 {
			drift = -drift
		}
		if drift <= persistDrift {
			return nil
		}
	}
	if err := s.syncs.SetNextScheduledRun(ctx, syn.ID, next); err != nil {
		return fmt.Errorf("persisting next run: %w", err)
	}
	return nil
}
