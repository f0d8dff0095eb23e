// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefinitionType classifies a registered entity definition.
type DefinitionType string

const (
	// DefJSON is a plain structured record.
	DefJSON DefinitionType = "json"
	// DefFile is a file-backed record.
	DefFile DefinitionType = "file"
	// DefCodeFile is a code file record.
	DefCodeFile DefinitionType = "code_file"
	// DefChunk is a synthesized chunk shape.
	DefChunk DefinitionType = "chunk"
	// DefParent is a synthesized parent shape.
	DefParent DefinitionType = "parent"
	// DefPolymorphic is a runtime-derived table shape.
	DefPolymorphic DefinitionType = "polymorphic"
)

// Definition is a registered, named record shape.
type Definition struct {
	ID     uuid.UUID
	Name   string
	Type   DefinitionType
	Module string
	Class  string

	// Schema is the JSON-schema-ish description of the payload, opaque to
	// the core.
	Schema map[string]any
}

// Reserved definition ids for shapes synthesized at runtime. Derived
// deterministically so every process agrees without a registry round-trip.
var (
	// PolymorphicDefinitionID identifies per-table shapes computed from
	// database column metadata.
	PolymorphicDefinitionID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("airweave/entity-def/polymorphic"))

	// ParentDefinitionID identifies synthesized parent shapes.
	ParentDefinitionID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("airweave/entity-def/parent"))

	// ChunkDefinitionID identifies synthesized chunk shapes.
	ChunkDefinitionID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("airweave/entity-def/chunk"))
)

// Registry holds entity definitions by id and name. Connectors register
// their definitions at startup; the router resolves against it per entity.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Definition
	byName map[string]Definition
}

// NewRegistry returns a registry pre-seeded with the reserved synthesized
// definitions.
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[uuid.UUID]Definition),
		byName: make(map[string]Definition),
	}
	r.MustRegister(Definition{ID: PolymorphicDefinitionID, Name: "PolymorphicEntity", Type: DefPolymorphic})
	r.MustRegister(Definition{ID: ParentDefinitionID, Name: "ParentEntity", Type: DefParent})
	r.MustRegister(Definition{ID: ChunkDefinitionID, Name: "ChunkEntity", Type: DefChunk})
	return r
}

// Register adds a definition. The id and name must both be unused.
func (r *Registry) Register(def Definition) error {
	if def.ID == uuid.Nil {
		return fmt.Errorf("definition %q has no id", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[def.ID]; ok {
		return fmt.Errorf("definition id %s already registered", def.ID)
	}
	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("definition name %q already registered", def.Name)
	}
	r.byID[def.ID] = def
	r.byName[def.Name] = def
	return nil
}

// MustRegister is Register for static init paths where a clash is a bug.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for id.
func (r *Registry) Get(id uuid.UUID) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id]
	return def, ok
}

// GetByName returns the definition registered under name.
func (r *Registry) GetByName(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// ResolveDefinitionID maps an entity to its definition id for routing.
// Explicit ids win; synthesized parent/chunk entities fall back to the base
// type they were derived from, then to the reserved synthesized ids;
// polymorphic entities always resolve to the reserved polymorphic id.
func (r *Registry) ResolveDefinitionID(e *Entity) (uuid.UUID, bool) {
	if e.DefinitionID != uuid.Nil {
		if _, ok := r.Get(e.DefinitionID); ok {
			return e.DefinitionID, true
		}
	}
	switch e.Kind {
	case KindPolymorphic:
		return PolymorphicDefinitionID, true
	case KindParent:
		if e.BaseDefinitionID != uuid.Nil {
			if _, ok := r.Get(e.BaseDefinitionID); ok {
				return e.BaseDefinitionID, true
			}
		}
		return ParentDefinitionID, true
	case KindChunk:
		if e.BaseDefinitionID != uuid.Nil {
			if _, ok := r.Get(e.BaseDefinitionID); ok {
				return e.BaseDefinitionID, true
			}
		}
		return ChunkDefinitionID, true
	default:
		return uuid.Nil, false
	}
}

// DefaultRegistry is the process-wide registry connectors register into.
var DefaultRegistry = NewRegistry()
