// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds connector descriptors by short name. Connector packages
// register themselves at init time, database/sql driver style. Safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a descriptor. The short name must be unused and the factory
// non-nil.
func (r *Registry) Register(d Descriptor) error {
	if d.ShortName == "" {
		return fmt.Errorf("descriptor has no short name")
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %q has no factory", d.ShortName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[d.ShortName]; ok {
		return fmt.Errorf("source %q already registered", d.ShortName)
	}
	r.descriptors[d.ShortName] = d
	return nil
}

// MustRegister is Register for init paths where a clash is a bug.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor registered under shortName.
func (r *Registry) Get(shortName string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[shortName]
	return d, ok
}

// List returns all descriptors sorted by short name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

// DefaultRegistry is the process-wide registry connector packages register
// into from init.
var DefaultRegistry = NewRegistry()
