// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
)

// SyncStore implements metastore.SyncStore.
type SyncStore struct {
	db *sql.DB
}

var _ metastore.SyncStore = (*SyncStore)(nil)

const syncColumns = `id, name, organization_id, source_connection_id, status,
	cron_schedule, next_scheduled_run, created_at, modified_at`

// Create stores a new sync plan.
func (s *SyncStore) Create(ctx context.Context, sy *core.Sync) error {
	if sy.ID == uuid.Nil {
		sy.ID = uuid.New()
	}
	now := time.Now().UTC()
	if sy.CreatedAt.IsZero() {
		sy.CreatedAt = now
	}
	sy.ModifiedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO syncs (`+syncColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sy.ID.String(), sy.Name, sy.OrganizationID.String(),
		sy.SourceConnectionID.String(), string(sy.Status),
		nullableString(sy.CronSchedule), nullableTime(sy.NextScheduledRun),
		formatTime(sy.CreatedAt), formatTime(sy.ModifiedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sync %s: %w", sy.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting sync: %w", err)
	}
	return nil
}

// Get retrieves a sync scoped to an organization.
func (s *SyncStore) Get(ctx context.Context, orgID, id uuid.UUID) (core.Sync, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncColumns+` FROM syncs WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())

	sy, err := scanSync(row)
	if err != nil {
		return core.Sync{}, notFound(err, fmt.Sprintf("sync %s", id))
	}
	return sy, nil
}

// GetByID retrieves a sync without organization scoping. Internal callers
// only (scheduler, engine); never exposed through the API layer.
func (s *SyncStore) GetByID(ctx context.Context, id uuid.UUID) (core.Sync, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncColumns+` FROM syncs WHERE id = ?`, id.String())

	sy, err := scanSync(row)
	if err != nil {
		return core.Sync{}, notFound(err, fmt.Sprintf("sync %s", id))
	}
	return sy, nil
}

// ListScheduled returns every active sync that carries a cron schedule,
// across all organizations. This is the scheduler's work list.
func (s *SyncStore) ListScheduled(ctx context.Context) ([]core.Sync, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM syncs
		 WHERE status = ? AND cron_schedule IS NOT NULL ORDER BY id`,
		string(core.SyncActive))
	if err != nil {
		return nil, fmt.Errorf("querying scheduled syncs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Sync
	for rows.Next() {
		sy, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sy)
	}
	return out, rows.Err()
}

// Update rewrites the mutable fields of a sync.
func (s *SyncStore) Update(ctx context.Context, sy *core.Sync) error {
	sy.ModifiedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE syncs SET name = ?, status = ?, cron_schedule = ?, next_scheduled_run = ?, modified_at = ?
		 WHERE organization_id = ? AND id = ?`,
		sy.Name, string(sy.Status), nullableString(sy.CronSchedule),
		nullableTime(sy.NextScheduledRun), formatTime(sy.ModifiedAt),
		sy.OrganizationID.String(), sy.ID.String())
	if err != nil {
		return fmt.Errorf("updating sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync %s: %w", sy.ID, core.ErrNotFound)
	}
	return nil
}

// SetNextScheduledRun persists the scheduler's computed next fire time.
func (s *SyncStore) SetNextScheduledRun(ctx context.Context, id uuid.UUID, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE syncs SET next_scheduled_run = ? WHERE id = ?`,
		formatTime(next), id.String())
	if err != nil {
		return fmt.Errorf("updating next scheduled run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Delete removes a sync scoped to an organization.
func (s *SyncStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM syncs WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())
	if err != nil {
		return fmt.Errorf("deleting sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanSync(sc scanner) (core.Sync, error) {
	var (
		rawID, name, rawOrgID, rawConnID, status string
		cronSchedule, nextRun                    sql.NullString
		createdAt, modifiedAt                    string
	)
	err := sc.Scan(&rawID, &name, &rawOrgID, &rawConnID, &status,
		&cronSchedule, &nextRun, &createdAt, &modifiedAt)
	if err != nil {
		return core.Sync{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.Sync{}, fmt.Errorf("parsing sync id: %w", err)
	}
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.Sync{}, fmt.Errorf("parsing organization id: %w", err)
	}
	connID, err := uuid.Parse(rawConnID)
	if err != nil {
		return core.Sync{}, fmt.Errorf("parsing source connection id: %w", err)
	}
	next, err := scanNullableTime(nextRun)
	if err != nil {
		return core.Sync{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return core.Sync{}, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return core.Sync{}, err
	}

	sy := core.Sync{
		ID:                 id,
		Name:               name,
		OrganizationID:     orgID,
		SourceConnectionID: connID,
		Status:             core.SyncStatus(status),
		NextScheduledRun:   next,
		CreatedAt:          created,
		ModifiedAt:         modified,
	}
	if cronSchedule.Valid {
		sy.CronSchedule = &cronSchedule.String
	}
	return sy, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
