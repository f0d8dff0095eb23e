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

// ConnectionStore implements metastore.ConnectionStore.
type ConnectionStore struct {
	db *sql.DB
}

var _ metastore.ConnectionStore = (*ConnectionStore)(nil)

const connectionColumns = `id, organization_id, name, short_name, collection_id, auth_variant,
	status, credential_id, auth_provider_name, config, cursor_field, sync_id, created_at, modified_at`

// Create stores a new source connection.
func (s *ConnectionStore) Create(ctx context.Context, conn *core.SourceConnection) error {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.ModifiedAt = now

	configJSON, err := marshalConfig(conn.Config)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_connections (`+connectionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID.String(), conn.OrganizationID.String(), conn.Name, conn.ShortName,
		conn.CollectionID.String(), string(conn.AuthVariant), string(conn.Status),
		nullableUUID(conn.CredentialID), conn.AuthProviderName, configJSON,
		conn.CursorField, nullableUUID(conn.SyncID),
		formatTime(conn.CreatedAt), formatTime(conn.ModifiedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source connection %s: %w", conn.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting source connection: %w", err)
	}
	return nil
}

// Get retrieves a source connection scoped to an organization.
func (s *ConnectionStore) Get(ctx context.Context, orgID, id uuid.UUID) (core.SourceConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM source_connections WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())

	conn, err := scanConnection(row)
	if err != nil {
		return core.SourceConnection{}, notFound(err, fmt.Sprintf("source connection %s", id))
	}
	return conn, nil
}

// List returns an organization's source connections ordered by name.
func (s *ConnectionStore) List(ctx context.Context, orgID uuid.UUID) ([]core.SourceConnection, error) {
	return s.list(ctx,
		`SELECT `+connectionColumns+` FROM source_connections WHERE organization_id = ? ORDER BY name`,
		orgID.String())
}

// ListByCollection returns the connections feeding one collection.
func (s *ConnectionStore) ListByCollection(ctx context.Context, orgID, collectionID uuid.UUID) ([]core.SourceConnection, error) {
	return s.list(ctx,
		`SELECT `+connectionColumns+` FROM source_connections
		 WHERE organization_id = ? AND collection_id = ? ORDER BY name`,
		orgID.String(), collectionID.String())
}

func (s *ConnectionStore) list(ctx context.Context, query string, args ...any) ([]core.SourceConnection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying source connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.SourceConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// Update rewrites the mutable fields of a source connection.
func (s *ConnectionStore) Update(ctx context.Context, conn *core.SourceConnection) error {
	configJSON, err := marshalConfig(conn.Config)
	if err != nil {
		return err
	}
	conn.ModifiedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE source_connections SET
		   name = ?, status = ?, credential_id = ?, auth_provider_name = ?,
		   config = ?, cursor_field = ?, sync_id = ?, modified_at = ?
		 WHERE organization_id = ? AND id = ?`,
		conn.Name, string(conn.Status), nullableUUID(conn.CredentialID),
		conn.AuthProviderName, configJSON, conn.CursorField,
		nullableUUID(conn.SyncID), formatTime(conn.ModifiedAt),
		conn.OrganizationID.String(), conn.ID.String())
	if err != nil {
		return fmt.Errorf("updating source connection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("source connection %s: %w", conn.ID, core.ErrNotFound)
	}
	return nil
}

// Delete removes a source connection scoped to an organization.
func (s *ConnectionStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM source_connections WHERE organization_id = ? AND id = ?`,
		orgID.String(), id.String())
	if err != nil {
		return fmt.Errorf("deleting source connection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("source connection %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanConnection(sc scanner) (core.SourceConnection, error) {
	var (
		rawID, rawOrgID, name, shortName, rawCollectionID string
		authVariant, status, authProviderName             string
		configJSON, cursorField, createdAt, modifiedAt    string
		rawCredentialID, rawSyncID                        sql.NullString
	)
	err := sc.Scan(&rawID, &rawOrgID, &name, &shortName, &rawCollectionID,
		&authVariant, &status, &rawCredentialID, &authProviderName,
		&configJSON, &cursorField, &rawSyncID, &createdAt, &modifiedAt)
	if err != nil {
		return core.SourceConnection{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return core.SourceConnection{}, fmt.Errorf("parsing connection id: %w", err)
	}
	orgID, err := uuid.Parse(rawOrgID)
	if err != nil {
		return core.SourceConnection{}, fmt.Errorf("parsing organization id: %w", err)
	}
	collectionID, err := uuid.Parse(rawCollectionID)
	if err != nil {
		return core.SourceConnection{}, fmt.Errorf("parsing collection id: %w", err)
	}
	credentialID, err := parseNullableUUID(rawCredentialID)
	if err != nil {
		return core.SourceConnection{}, err
	}
	syncID, err := parseNullableUUID(rawSyncID)
	if err != nil {
		return core.SourceConnection{}, err
	}

	var config map[string]any
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return core.SourceConnection{}, fmt.Errorf("unmarshaling connection config: %w", err)
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return core.SourceConnection{}, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return core.SourceConnection{}, err
	}

	return core.SourceConnection{
		ID:               id,
		OrganizationID:   orgID,
		Name:             name,
		ShortName:        shortName,
		CollectionID:     collectionID,
		AuthVariant:      core.AuthVariant(authVariant),
		Status:           core.SourceConnectionStatus(status),
		CredentialID:     credentialID,
		AuthProviderName: authProviderName,
		Config:           config,
		CursorField:      cursorField,
		SyncID:           syncID,
		CreatedAt:        created,
		ModifiedAt:       modified,
	}, nil
}

func marshalConfig(config map[string]any) (string, error) {
	if config == nil {
		return "{}", nil
	}
	b, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshaling connection config: %w", err)
	}
	return string(b), nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullableUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing uuid %q: %w", s.String, err)
	}
	return &id, nil
}
