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

// OrganizationStore implements metastore.OrganizationStore.
type OrganizationStore struct {
	db *sql.DB
}

var _ metastore.OrganizationStore = (*OrganizationStore)(nil)

// Create stores a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *core.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID.String(), org.Name, formatTime(org.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("organization %s: %w", org.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting organization: %w", err)
	}
	return nil
}

// Get retrieves an organization by id.
func (s *OrganizationStore) Get(ctx context.Context, id uuid.UUID) (core.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`, id.String())

	org, err := scanOrganization(row)
	if err != nil {
		return core.Organization{}, notFound(err, fmt.Sprintf("organization %s", id))
	}
	return org, nil
}

// List returns all organizations ordered by name.
func (s *OrganizationStore) List(ctx context.Context) ([]core.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orgs []core.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func scanOrganization(sc scanner) (core.Organization, error) {
	var (
		rawID, name, createdAt string
	)
	if err := sc.Scan(&rawID, &name, &createdAt); err != nil {
		return core.Organization{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.Organization{}, fmt.Errorf("parsing organization id: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return core.Organization{}, err
	}
	return core.Organization{ID: id, Name: name, CreatedAt: created}, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }
