// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package dag

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/entity"
)

// BuildDefault constructs the standard sync DAG for a source: one source
// node fanning out to an entity node per produced definition, each wired
// straight to a single destination node. Connections that need transformer
// stages get them inserted by the router's well-known handling (files, code
// files, oversized chunks), so the default graph stays minimal.
func BuildDefault(syncID uuid.UUID, sourceName string, definitions []entity.Definition) (*Dag, error) {
	if sourceName == "" {
		return nil, fmt.Errorf("source name is required")
	}

	d := &Dag{
		ID:     uuid.New(),
		Name:   fmt.Sprintf("DAG for %s", sourceName),
		SyncID: syncID,
	}

	source := Node{ID: uuid.New(), Type: NodeSource, Name: sourceName}
	dest := Node{ID: uuid.New(), Type: NodeDestination, Name: "vector_store"}
	d.Nodes = append(d.Nodes, source, dest)

	for _, def := range definitions {
		en := Node{ID: uuid.New(), Type: NodeEntity, Name: def.Name, DefinitionID: def.ID}
		d.Nodes = append(d.Nodes, en)
		d.Edges = append(d.Edges,
			Edge{FromNodeID: source.ID, ToNodeID: en.ID},
			Edge{FromNodeID: en.ID, ToNodeID: dest.ID},
		)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
