// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
)

// JobStore implements metastore.JobStore.
type JobStore struct {
	db *sql.DB
}

var _ metastore.JobStore = (*JobStore)(nil)

const jobColumns = `id, sync_id, status, stats, started_at, completed_at, error, created_at`

// CreatePending inserts a pending job for the sync unless a non-terminal
// job already exists. The existence check and the insert share one
// transaction, so concurrent callers racing on the same sync produce
// exactly one job. Returns false with no error when another job holds the
// slot.
func (s *JobStore) CreatePending(ctx context.Context, job *core.SyncJob) (created bool, retErr error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = core.JobPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			rollback(tx)
		}
	}()

	var nonTerminal int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE sync_id = ? AND status IN (?, ?)`,
		job.SyncID.String(), string(core.JobPending), string(core.JobInProgress)).Scan(&nonTerminal)
	if err != nil {
		return false, fmt.Errorf("counting non-terminal jobs: %w", err)
	}
	if nonTerminal > 0 {
		rollback(tx)
		return false, nil
	}

	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return false, fmt.Errorf("marshaling job stats: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, NULL, NULL, '', ?)`,
		job.ID.String(), job.SyncID.String(), string(job.Status),
		string(statsJSON), formatTime(job.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("inserting sync job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing sync job: %w", err)
	}
	return true, nil
}

// Get retrieves one job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (core.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id.String())

	job, err := scanJob(row)
	if err != nil {
		return core.SyncJob{}, notFound(err, fmt.Sprintf("sync job %s", id))
	}
	return job, nil
}

// List returns the most recent jobs of a sync, newest first.
func (s *JobStore) List(ctx context.Context, syncID uuid.UUID, limit int) ([]core.SyncJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE sync_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		syncID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Latest returns the most recently created job of a sync.
func (s *JobStore) Latest(ctx context.Context, syncID uuid.UUID) (core.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE sync_id = ? ORDER BY created_at DESC, id LIMIT 1`,
		syncID.String())

	job, err := scanJob(row)
	if err != nil {
		return core.SyncJob{}, notFound(err, fmt.Sprintf("latest job for sync %s", syncID))
	}
	return job, nil
}

// HasNonTerminal reports whether the sync has a pending or in-progress job.
func (s *JobStore) HasNonTerminal(ctx context.Context, syncID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE sync_id = ? AND status IN (?, ?)`,
		syncID.String(), string(core.JobPending), string(core.JobInProgress)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting non-terminal jobs: %w", err)
	}
	return n > 0, nil
}

// Update rewrites a job's status, stats, timestamps, and error.
func (s *JobStore) Update(ctx context.Context, job *core.SyncJob) error {
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshaling job stats: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, stats = ?, started_at = ?, completed_at = ?, error = ?
		 WHERE id = ?`,
		string(job.Status), string(statsJSON),
		nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
		job.Error, job.ID.String())
	if err != nil {
		return fmt.Errorf("updating sync job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync job %s: %w", job.ID, core.ErrNotFound)
	}
	return nil
}

func scanJob(sc scanner) (core.SyncJob, error) {
	var (
		rawID, rawSyncID, status, statsJSON, jobError, createdAt string
		startedAt, completedAt                                   sql.NullString
	)
	err := sc.Scan(&rawID, &rawSyncID, &status, &statsJSON,
		&startedAt, &completedAt, &jobError, &createdAt)
	if err != nil {
		return core.SyncJob{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.SyncJob{}, fmt.Errorf("parsing job id: %w", err)
	}
	syncID, err := uuid.Parse(rawSyncID)
	if err != nil {
		return core.SyncJob{}, fmt.Errorf("parsing sync id: %w", err)
	}

	var stats core.JobStats
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return core.SyncJob{}, fmt.Errorf("unmarshaling job stats: %w", err)
	}

	started, err := scanNullableTime(startedAt)
	if err != nil {
		return core.SyncJob{}, err
	}
	completed, err := scanNullableTime(completedAt)
	if err != nil {
		return core.SyncJob{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return core.SyncJob{}, err
	}

	return core.SyncJob{
		ID:          id,
		SyncID:      syncID,
		Status:      core.SyncJobStatus(status),
		Stats:       stats,
		StartedAt:   started,
		CompletedAt: completed,
		Error:       jobError,
		CreatedAt:   created,
	}, nil
}
