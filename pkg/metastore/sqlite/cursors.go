// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/metastore"
)

// CursorStore implements metastore.CursorStore. Cursors only move on
// successful jobs; the engine writes them after its terminal commit.
type CursorStore struct {
	db *sql.DB
}

var _ metastore.CursorStore = (*CursorStore)(nil)

// Get loads the cursor of a connection. A connection that has never
// completed an incremental run has no cursor; that is nil, not an error.
func (s *CursorStore) Get(ctx context.Context, connectionID uuid.UUID) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM cursors WHERE connection_id = ?`, connectionID.String())

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying cursor: %w", err)
	}

	var cursor map[string]any
	if err := json.Unmarshal([]byte(raw), &cursor); err != nil {
		return nil, fmt.Errorf("unmarshaling cursor: %w", err)
	}
	return cursor, nil
}

// Set upserts the cursor of a connection.
func (s *CursorStore) Set(ctx context.Context, connectionID uuid.UUID, cursor map[string]any) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshaling cursor: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cursors (connection_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(connection_id) DO UPDATE SET
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		connectionID.String(), string(raw), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor of a connection, forcing the next run to start
// from scratch. Deleting a missing cursor is a no-op.
func (s *CursorStore) Delete(ctx context.Context, connectionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cursors WHERE connection_id = ?`, connectionID.String())
	if err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	return nil
}
