// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/dag"
	"github.com/airweave/airweave-go/pkg/metastore"
)

// DagStore implements metastore.DagStore. One DAG per sync; saving again
// replaces the previous graph.
type DagStore struct {
	db *sql.DB
}

var _ metastore.DagStore = (*DagStore)(nil)

// Save upserts the DAG keyed by its sync id.
func (s *DagStore) Save(ctx context.Context, d *dag.Dag) error {
	if d.SyncID == uuid.Nil {
		return fmt.Errorf("%w: dag has no sync id", core.ErrValidation)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	nodesJSON, err := json.Marshal(d.Nodes)
	if err != nil {
		return fmt.Errorf("marshaling dag nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(d.Edges)
	if err != nil {
		return fmt.Errorf("marshaling dag edges: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_dags (id, name, sync_id, nodes, edges)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(sync_id) DO UPDATE SET
		   id = excluded.id,
		   name = excluded.name,
		   nodes = excluded.nodes,
		   edges = excluded.edges`,
		d.ID.String(), d.Name, d.SyncID.String(), string(nodesJSON), string(edgesJSON))
	if err != nil {
		return fmt.Errorf("saving dag: %w", err)
	}
	return nil
}

// GetBySync loads the DAG of a sync.
func (s *DagStore) GetBySync(ctx context.Context, syncID uuid.UUID) (*dag.Dag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, nodes, edges FROM sync_dags WHERE sync_id = ?`, syncID.String())

	var rawID, name, nodesJSON, edgesJSON string
	if err := row.Scan(&rawID, &name, &nodesJSON, &edgesJSON); err != nil {
		return nil, notFound(err, fmt.Sprintf("dag for sync %s", syncID))
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parsing dag id: %w", err)
	}

	d := &dag.Dag{ID: id, Name: name, SyncID: syncID}
	if err := json.Unmarshal([]byte(nodesJSON), &d.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshaling dag nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &d.Edges); err != nil {
		return nil, fmt.Errorf("unmarshaling dag edges: %w", err)
	}
	return d, nil
}

// DeleteBySync removes the DAG of a sync. Deleting a missing DAG is a no-op.
func (s *DagStore) DeleteBySync(ctx context.Context, syncID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_dags WHERE sync_id = ?`, syncID.String())
	if err != nil {
		return fmt.Errorf("deleting dag: %w", err)
	}
	return nil
}
