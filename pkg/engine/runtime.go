// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
)

// Runtime accepts pending jobs for execution. The in-process implementation
// below runs them on local goroutines; a durable workflow runtime satisfies
// the same contract.
type Runtime interface {
	// Submit hands a pending job off for execution. It returns once the job
	// is accepted, not once it finishes. Submitting a job already running
	// is an error; the scheduler treats it as handoff failure and retries.
	Submit(ctx context.Context, jobID uuid.UUID) error

	// Cancel requests cooperative cancellation of a job. A pending job that
	// was never picked up transitions to cancelled directly.
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// InProcessRuntime runs jobs on goroutines with a concurrency cap. Used when
// no durable workflow runtime is configured; recovery after a crash is
// best-effort (orphaned in_progress jobs stay that way until operator
// intervention).
type InProcessRuntime struct {
	engine *Engine
	sem    chan struct{}

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewInProcessRuntime builds a runtime running at most maxConcurrent jobs
// at once.
func NewInProcessRuntime(engine *Engine, maxConcurrent int) *InProcessRuntime {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &InProcessRuntime{
		engine:  engine,
		sem:     make(chan struct{}, maxConcurrent),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit starts the job on a goroutine detached from the caller's context,
// so an API request timing out does not kill the sync it started.
func (rt *InProcessRuntime) Submit(_ context.Context, jobID uuid.UUID) error {
	rt.mu.Lock()
	if _, ok := rt.running[jobID]; ok {
		rt.mu.Unlock()
		return fmt.Errorf("%w: job %s already running", core.ErrValidation, jobID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	rt.running[jobID] = cancel
	rt.mu.Unlock()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer func() {
			rt.mu.Lock()
			delete(rt.running, jobID)
			rt.mu.Unlock()
			cancel()
		}()

		rt.sem <- struct{}{}
		defer func() { <-rt.sem }()

		if err := rt.engine.Run(runCtx, jobID); err != nil {
			rt.engine.log.Error("sync job finished with error", "job_id", jobID.String(), "error", err)
		}
	}()
	return nil
}

// Cancel signals a running job, or marks a never-started pending job
// cancelled directly in the store.
func (rt *InProcessRuntime) Cancel(ctx context.Context, jobID uuid.UUID) error {
	rt.mu.Lock()
	cancel, ok := rt.running[jobID]
	rt.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	job, err := rt.engine.cfg.Stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.Status == core.JobPending {
		now := time.Now().UTC()
		job.Status = core.JobCancelled
		job.CompletedAt = &now
		job.Error = "cancelled before start"
		return rt.engine.cfg.Stores.Jobs.Update(ctx, &job)
	}
	return fmt.Errorf("%w: job %s is %s in another process", core.ErrValidation, jobID, job.Status)
}

// Drain waits for every submitted job to finish. Called at shutdown after
// cancelling the process context.
func (rt *InProcessRuntime) Drain() {
	rt.wg.Wait()
}

// CancelAll signals every running job, for shutdown.
func (rt *InProcessRuntime) CancelAll() {
	rt.mu.Lock()
	for _, cancel := range rt.running {
		cancel()
	}
	rt.mu.Unlock()
}
