// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package dag

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

// graph builds a dag from shorthand node specs and edges for table tests.
type nodeSpec struct {
	key  string
	typ  NodeType
	def  uuid.UUID
	name string
}

func buildDag(t *testing.T, nodes []nodeSpec, edges [][2]string) *Dag {
	t.Helper()
	d := &Dag{ID: uuid.New(), Name: "test"}
	ids := make(map[string]uuid.UUID, len(nodes))
	for _, n := range nodes {
		id := uuid.New()
		ids[n.key] = id
		name := n.name
		if name == "" {
			name = n.key
		}
		d.Nodes = append(d.Nodes, Node{ID: id, Type: n.typ, Name: name, DefinitionID: n.def, TransformerName: name})
	}
	for _, e := range edges {
		d.Edges = append(d.Edges, Edge{FromNodeID: ids[e[0]], ToNodeID: ids[e[1]]})
	}
	return d
}

func TestValidateAcceptsDefaultShape(t *testing.T) {
	t.Parallel()

	def := uuid.New()
	d := buildDag(t,
		[]nodeSpec{
			{key: "src", typ: NodeSource},
			{key: "ent", typ: NodeEntity, def: def},
			{key: "dst", typ: NodeDestination},
		},
		[][2]string{{"src", "ent"}, {"ent", "dst"}},
	)
	require.NoError(t, d.Validate())
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	def := uuid.New()

	tests := []struct {
		name  string
		nodes []nodeSpec
		edges [][2]string
	}{
		{
			name: "no source node",
			nodes: []nodeSpec{
				{key: "ent", typ: NodeEntity, def: def},
				{key: "dst", typ: NodeDestination},
			},
			edges: [][2]string{{"ent", "dst"}},
		},
		{
			name: "two source nodes",
			nodes: []nodeSpec{
				{key: "s1", typ: NodeSource},
				{key: "s2", typ: NodeSource},
				{key: "ent", typ: NodeEntity, def: def},
				{key: "dst", typ: NodeDestination},
			},
			edges: [][2]string{{"s1", "ent"}, {"ent", "dst"}},
		},
		{
			name: "entity node with two producers",
			nodes: []nodeSpec{
				{key: "src", typ: NodeSource},
				{key: "tr", typ: NodeTransformer},
				{key: "ent", typ: NodeEntity, def: def},
				{key: "dst", typ: NodeDestination},
			},
			edges: [][2]string{{"src", "ent"}, {"tr", "ent"}, {"ent", "dst"}},
		},
		{
			name: "entity node mixing destination and transformer edges",
			nodes: []nodeSpec{
				{key: "src", typ: NodeSource},
				{key: "ent", typ: NodeEntity, def: def},
				{key: "tr", typ: NodeTransformer},
				{key: "dst", typ: NodeDestination},
			},
			edges: [][2]string{{"src", "ent"}, {"ent", "dst"}, {"ent", "tr"}},
		},
		{
			name: "entity node fanning out to two transformers",
			nodes: []nodeSpec{
				{key: "src", typ: NodeSource},
				{key: "ent", typ: NodeEntity, def: def},
				{key: "t1", typ: NodeTransformer},
				{key: "t2", typ: NodeTransformer},
			},
			edges: [][2]string{{"src", "ent"}, {"ent", "t1"}, {"ent", "t2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := buildDag(t, tt.nodes, tt.edges)
			err := d.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	t.Parallel()

	def1, def2 := uuid.New(), uuid.New()
	d := buildDag(t,
		[]nodeSpec{
			{key: "src", typ: NodeSource},
			{key: "e1", typ: NodeEntity, def: def1},
			{key: "tr", typ: NodeTransformer},
			{key: "e2", typ: NodeEntity, def: def2},
			{key: "tr2", typ: NodeTransformer},
		},
		[][2]string{
			{"src", "e1"},
			{"e1", "tr"},
			{"tr", "e2"},
			{"e2", "tr2"},
			{"tr2", "e1"}, // closes the loop, also gives e1 a second producer
		},
	)
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestValidateRejectsUnknownEdgeTarget(t *testing.T) {
	t.Parallel()

	d := buildDag(t,
		[]nodeSpec{
			{key: "src", typ: NodeSource},
			{key: "dst", typ: NodeDestination},
		},
		[][2]string{{"src", "dst"}},
	)
	d.Edges = append(d.Edges, Edge{FromNodeID: d.Nodes[0].ID, ToNodeID: uuid.New()})

	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestBuildDefault(t *testing.T) {
	t.Parallel()

	defs := []entity.Definition{
		{ID: uuid.New(), Name: "GithubIssueEntity", Type: entity.DefJSON},
		{ID: uuid.New(), Name: "GithubFileEntity", Type: entity.DefFile},
	}
	d, err := BuildDefault(uuid.New(), "github", defs)
	require.NoError(t, err)

	require.NoError(t, d.Validate())
	assert.Len(t, d.Nodes, 4) // source + destination + one entity node per definition
	assert.Len(t, d.Edges, 4)

	src, err := d.SourceNode()
	require.NoError(t, err)
	assert.Equal(t, "github", src.Name)
}
