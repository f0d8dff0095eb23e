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

// BillingStore implements metastore.BillingStore.
type BillingStore struct {
	db *sql.DB
}

var _ metastore.BillingStore = (*BillingStore)(nil)

const billingPeriodColumns = `id, organization_id, status, period_start, period_end,
	max_entities, max_queries, max_source_connections, max_team_members`

// CreatePeriod stores a billing period and seeds its usage row at zero.
func (s *BillingStore) CreatePeriod(ctx context.Context, p *core.BillingPeriod) (retErr error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			rollback(tx)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO billing_periods (`+billingPeriodColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.OrganizationID.String(), string(p.Status),
		formatTime(p.PeriodStart.UTC()), formatTime(p.PeriodEnd.UTC()),
		nullableInt64(p.MaxEntities), nullableInt64(p.MaxQueries),
		nullableInt64(p.MaxSourceConnections), nullableInt64(p.MaxTeamMembers))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("billing period %s: %w", p.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting billing period: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage (organization_id, billing_period_id, entities, queries, source_connections, updated_at)
		 VALUES (?, ?, 0, 0, 0, ?)`,
		p.OrganizationID.String(), p.ID.String(), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("seeding usage row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing billing period: %w", err)
	}
	return nil
}

// CurrentPeriod returns the period whose window covers now. When several
// overlap, the one starting latest wins. core.ErrNotFound means the
// organization has no billing history at all.
func (s *BillingStore) CurrentPeriod(ctx context.Context, orgID uuid.UUID) (core.BillingPeriod, error) {
	now := formatTime(time.Now().UTC())
	row := s.db.QueryRowContext(ctx,
		`SELECT `+billingPeriodColumns+` FROM billing_periods
		 WHERE organization_id = ? AND period_start <= ? AND period_end > ?
		 ORDER BY period_start DESC LIMIT 1`,
		orgID.String(), now, now)

	p, err := scanBillingPeriod(row)
	if err != nil {
		return core.BillingPeriod{}, notFound(err, fmt.Sprintf("current billing period for organization %s", orgID))
	}
	return p, nil
}

// Usage returns the accumulated counters for a billing period.
func (s *BillingStore) Usage(ctx context.Context, orgID, periodID uuid.UUID) (core.Usage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT organization_id, billing_period_id, entities, queries, source_connections, updated_at
		 FROM usage WHERE organization_id = ? AND billing_period_id = ?`,
		orgID.String(), periodID.String())

	u, err := scanUsage(row)
	if err != nil {
		return core.Usage{}, notFound(err, fmt.Sprintf("usage for billing period %s", periodID))
	}
	return u, nil
}

// AddUsage atomically increments one counter and returns the refreshed row.
func (s *BillingStore) AddUsage(ctx context.Context, orgID, periodID uuid.UUID, action core.Action, delta int64) (core.Usage, error) {
	column, ok := usageColumn(action)
	if !ok {
		return core.Usage{}, fmt.Errorf("%w: action %q has no usage counter", core.ErrValidation, action)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE usage SET `+column+` = MAX(0, `+column+` + ?), updated_at = ?
		 WHERE organization_id = ? AND billing_period_id = ?
		 RETURNING organization_id, billing_period_id, entities, queries, source_connections, updated_at`,
		delta, formatTime(time.Now().UTC()), orgID.String(), periodID.String())

	u, err := scanUsage(row)
	if err != nil {
		return core.Usage{}, notFound(err, fmt.Sprintf("usage for billing period %s", periodID))
	}
	return u, nil
}

// usageColumn maps an action to its counter column. team_members is derived
// live from membership and never accumulated.
func usageColumn(action core.Action) (string, bool) {
	switch action {
	case core.ActionEntities:
		return "entities", true
	case core.ActionQueries:
		return "queries", true
	case core.ActionSourceConnections:
		return "source_connections", true
	default:
		return "", false
	}
}

func scanBillingPeriod(sc scanner) (core.BillingPeriod, error) {
	var (
		rawID, rawOrgID, status, periodStart, periodEnd        string
		maxEntities, maxQueries, maxConnections, maxTeamMember sql.NullInt64
	)
	err := sc.Scan(&rawID, &rawOrgID, &status, &periodStart, &periodEnd,
		&maxEntities, &maxQueries, &maxConnections, &maxTeamMember)
	if err != nil {
		return core.BillingPeriod{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("parsing billing period id: %w", err)
	}
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.BillingPeriod{}, fmt.Errorf("parsing organization id: %w", err)
	}
	start, err := parseTime(periodStart)
	if err != nil {
		return core.BillingPeriod{}, err
	}
	end, err := parseTime(periodEnd)
	if err != nil {
		return core.BillingPeriod{}, err
	}

	return core.BillingPeriod{
		ID:                   id,
		OrganizationID:       orgID,
		Status:               core.BillingPeriodStatus(status),
		PeriodStart:          start,
		PeriodEnd:            end,
		MaxEntities:          int64Ptr(maxEntities),
		MaxQueries:           int64Ptr(maxQueries),
		MaxSourceConnections: int64Ptr(maxConnections),
		MaxTeamMembers:       int64Ptr(maxTeamMember),
	}, nil
}

func scanUsage(sc scanner) (core.Usage, error) {
	var (
		rawOrgID, rawPeriodID, updatedAt string
		u                                core.Usage
	)
	err := sc.Scan(&rawOrgID, &rawPeriodID, &u.Entities, &u.Queries, &u.SourceConnections, &updatedAt)
	if err != nil {
		return core.Usage{}, err
	}

	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.Usage{}, fmt.Errorf("parsing organization id: %w", err)
	}
	periodID, err := uuid.Parse(rawPeriodID)
	if err != nil {
		return core.Usage{}, fmt.Errorf("parsing billing period id: %w", err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return core.Usage{}, err
	}

	u.OrganizationID = orgID
	u.BillingPeriodID = periodID
	u.UpdatedAt = updated
	return u, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
