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

// CollectionStore implements metastore.CollectionStore.
type CollectionStore struct {
	db *sql.DB
}

var _ metastore.CollectionStore = (*CollectionStore)(nil)

const collectionColumns = `id, readable_id, name, organization_id, created_at, modified_at`

// Create stores a new collection.
func (s *CollectionStore) Create(ctx context.Context, c *core.Collection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.ModifiedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, readable_id, name, organization_id, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.ReadableID, c.Name, c.OrganizationID.String(),
		formatTime(c.CreatedAt), formatTime(c.ModifiedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("collection %q: %w", c.ReadableID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting collection: %w", err)
	}
	return nil
}

// Get retrieves a collection scoped to an organization.
func (s *CollectionStore) Get(ctx context.Context, orgID, id uuid.UUID) (core.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())

	c, err := scanCollection(row)
	if err != nil {
		return core.Collection{}, notFound(err, fmt.Sprintf("collection %s", id))
	}
	return c, nil
}

// GetByReadableID retrieves a collection by its readable id, scoped to an
// organization.
func (s *CollectionStore) GetByReadableID(ctx context.Context, orgID uuid.UUID, readableID string) (core.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE organization_id = ? AND readable_id = ?`,
		orgID.String(), readableID)

	c, err := scanCollection(row)
	if err != nil {
		return core.Collection{}, notFound(err, fmt.Sprintf("collection %q", readableID))
	}
	return c, nil
}

// List returns an organization's collections ordered by readable id.
func (s *CollectionStore) List(ctx context.Context, orgID uuid.UUID) ([]core.Collection, error) {
	return s.list(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE organization_id = ? ORDER BY readable_id`,
		orgID.String())
}

// ListAll returns every collection across organizations.
func (s *CollectionStore) ListAll(ctx context.Context) ([]core.Collection, error) {
	return s.list(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY readable_id`)
}

func (s *CollectionStore) list(ctx context.Context, query string, args ...any) ([]core.Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a collection scoped to an organization.
func (s *CollectionStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())
	if err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("collection %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanCollection(sc scanner) (core.Collection, error) {
	var rawID, readableID, name, rawOrgID, createdAt, modifiedAt string
	if err := sc.Scan(&rawID, &readableID, &name, &rawOrgID, &createdAt, &modifiedAt); err != nil {
		return core.Collection{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.Collection{}, fmt.Errorf("parsing collection id: %w", err)
	}
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.Collection{}, fmt.Errorf("parsing organization id: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return core.Collection{}, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return core.Collection{}, err
	}

	return core.Collection{
		ID:             id,
		ReadableID:     readableID,
		Name:           name,
		OrganizationID: orgID,
		CreatedAt:      created,
		ModifiedAt:     modified,
	}, nil
}
