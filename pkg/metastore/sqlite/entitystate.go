// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/metastore"
)

// EntityStateStore implements metastore.EntityStateStore. It remembers the
// content hash and chunk count of every entity from the last successful
// run, which is what lets the next run decide insert vs update vs skip and
// detect deletions without refetching the vector store.
type EntityStateStore struct {
	db *sql.DB
}

var _ metastore.EntityStateStore = (*EntityStateStore)(nil)

// Load returns every tracked entity of a sync keyed by entity id.
func (s *EntityStateStore) Load(ctx context.Context, syncID uuid.UUID) (map[string]metastore.EntityState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, hash, chunk_count FROM entity_states WHERE sync_id = ?`,
		syncID.String())
	if err != nil {
		return nil, fmt.Errorf("querying entity states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]metastore.EntityState)
	for rows.Next() {
		var st metastore.EntityState
		if err := rows.Scan(&st.EntityID, &st.Hash, &st.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning entity state: %w", err)
		}
		out[st.EntityID] = st
	}
	return out, rows.Err()
}

// Upsert writes a batch of entity states in one transaction.
func (s *EntityStateStore) Upsert(ctx context.Context, syncID uuid.UUID, states []metastore.EntityState) (retErr error) {
	if len(states) == 0 {
		return nil
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

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entity_states (sync_id, entity_id, hash, chunk_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(sync_id, entity_id) DO UPDATE SET
		   hash = excluded.hash,
		   chunk_count = excluded.chunk_count`)
	if err != nil {
		return fmt.Errorf("preparing entity state upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, st := range states {
		if _, err := stmt.ExecContext(ctx, syncID.String(), st.EntityID, st.Hash, st.ChunkCount); err != nil {
			return fmt.Errorf("upserting entity state %q: %w", st.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity states: %w", err)
	}
	return nil
}

// Delete removes the named entities from a sync's tracked set.
func (s *EntityStateStore) Delete(ctx context.Context, syncID uuid.UUID, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	ids, err := json.Marshal(entityIDs)
	if err != nil {
		return fmt.Errorf("marshaling entity ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM entity_states
		 WHERE sync_id = ? AND entity_id IN (SELECT value FROM json_each(?))`,
		syncID.String(), string(ids))
	if err != nil {
		return fmt.Errorf("deleting entity states: %w", err)
	}
	return nil
}

// Clear drops every tracked entity of a sync.
func (s *EntityStateStore) Clear(ctx context.Context, syncID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_states WHERE sync_id = ?`, syncID.String())
	if err != nil {
		return fmt.Errorf("clearing entity states: %w", err)
	}
	return nil
}
