// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dag models the routing graph of a sync: which transformer consumes
// each entity type and where terminal entities land. Validation runs at
// construction; the router consults a precomputed route table at stream time.
package dag

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
)

// NodeType classifies a DAG node.
type NodeType string

const (
	// NodeSource produces the entity stream. Exactly one per DAG.
	NodeSource NodeType = "source"
	// NodeEntity is a typed waypoint: one per entity definition in play.
	NodeEntity NodeType = "entity"
	// NodeTransformer consumes entities of one type and produces others.
	NodeTransformer NodeType = "transformer"
	// NodeDestination is a terminal sink (vector store).
	NodeDestination NodeType = "destination"
)

// Node is one vertex of a sync DAG.
type Node struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	Type NodeType  `json:"type" yaml:"type"`
	Name string    `json:"name" yaml:"name"`

	// DefinitionID is set on entity nodes.
	DefinitionID uuid.UUID `json:"definition_id,omitempty" yaml:"definition_id,omitempty"`

	// TransformerName is set on transformer nodes and resolved against the
	// transformer cache at run time.
	TransformerName string `json:"transformer_name,omitempty" yaml:"transformer_name,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	FromNodeID uuid.UUID `json:"from_node_id" yaml:"from_node_id"`
	ToNodeID   uuid.UUID `json:"to_node_id" yaml:"to_node_id"`
}

// Dag is the serialized routing graph of a sync.
type Dag struct {
	ID     uuid.UUID `json:"id" yaml:"id"`
	Name   string    `json:"name" yaml:"name"`
	SyncID uuid.UUID `json:"sync_id,omitempty" yaml:"sync_id,omitempty"`
	Nodes  []Node    `json:"nodes" yaml:"nodes"`
	Edges  []Edge    `json:"edges" yaml:"edges"`
}

// node lookup helpers used by validation and the router.

func (d *Dag) nodeByID(id uuid.UUID) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// SourceNode returns the single source node.
func (d *Dag) SourceNode() (Node, error) {
	var found []Node
	for _, n := range d.Nodes {
		if n.Type == NodeSource {
			found = append(found, n)
		}
	}
	if len(found) != 1 {
		return Node{}, fmt.Errorf("%w: dag %s has %d source nodes", core.ErrValidation, d.ID, len(found))
	}
	return found[0], nil
}

// OutgoingEdges returns the edges leaving a node.
func (d *Dag) OutgoingEdges(id uuid.UUID) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.FromNodeID == id {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges arriving at a node.
func (d *Dag) IncomingEdges(id uuid.UUID) []Edge {
	var in []Edge
	for _, e := range d.Edges {
		if e.ToNodeID == id {
			in = append(in, e)
		}
	}
	return in
}

// Validate checks the structural invariants of a sync DAG:
// exactly one source node, every entity node has exactly one producer, an
// entity node's outgoing edges are either all destinations or a single
// transformer, all edges reference known nodes, and the graph is acyclic.
func (d *Dag) Validate() error {
	seen := make(map[uuid.UUID]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == uuid.Nil {
			return fmt.Errorf("%w: dag %s contains a node without an id", core.ErrValidation, d.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %s", core.ErrValidation, n.ID)
		}
		seen[n.ID] = true
	}

	if _, err := d.SourceNode(); err != nil {
		return err
	}

	for _, e := range d.Edges {
		if !seen[e.FromNodeID] || !seen[e.ToNodeID] {
			return fmt.Errorf("%w: edge %s -> %s references an unknown node",
				core.ErrValidation, e.FromNodeID, e.ToNodeID)
		}
	}

	for _, n := range d.Nodes {
		if n.Type != NodeEntity {
			continue
		}
		if got := len(d.IncomingEdges(n.ID)); got != 1 {
			return fmt.Errorf("%w: entity node %q has %d producers, want exactly 1",
				core.ErrValidation, n.Name, got)
		}
		if err := d.validateEntityFanout(n); err != nil {
			return err
		}
	}

	return d.validateAcyclic()
}

// validateEntityFanout enforces the terminal-or-single-transformer rule.
func (d *Dag) validateEntityFanout(n Node) error {
	out := d.OutgoingEdges(n.ID)
	if len(out) == 0 {
		return nil
	}

	destinations := 0
	var nonDest []Node
	for _, e := range out {
		to, ok := d.nodeByID(e.ToNodeID)
		if !ok {
			return fmt.Errorf("%w: edge from %q references an unknown node", core.ErrValidation, n.Name)
		}
		if to.Type == NodeDestination {
			destinations++
		} else {
			nonDest = append(nonDest, to)
		}
	}

	switch {
	case len(nonDest) == 0:
		return nil
	case destinations > 0:
		return fmt.Errorf("%w: entity node %q mixes destination and transformer edges",
			core.ErrValidation, n.Name)
	case len(nonDest) > 1:
		return fmt.Errorf("%w: entity node %q fans out to %d transformers, want exactly 1",
			core.ErrValidation, n.Name, len(nonDest))
	case nonDest[0].Type != NodeTransformer:
		return fmt.Errorf("%w: entity node %q routes to %s node %q",
			core.ErrValidation, n.Name, nonDest[0].Type, nonDest[0].Name)
	default:
		return nil
	}
}

// validateAcyclic detects cycles with a DFS over the adjacency list,
// tracking the current recursion stack.
func (d *Dag) validateAcyclic() error {
	adj := make(map[uuid.UUID][]uuid.UUID, len(d.Nodes))
	for _, e := range d.Edges {
		adj[e.FromNodeID] = append(adj[e.FromNodeID], e.ToNodeID)
	}

	visited := make(map[uuid.UUID]bool, len(d.Nodes))
	recStack := make(map[uuid.UUID]bool, len(d.Nodes))

	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		visited[id] = true
		recStack[id] = true
		for _, next := range adj[id] {
			if recStack[next] {
				return fmt.Errorf("%w: dag %s contains a cycle through node %s",
					core.ErrValidation, d.ID, next)
			}
			if !visited[next] {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		recStack[id] = false
		return nil
	}

	for _, n := range d.Nodes {
		if !visited[n.ID] {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
