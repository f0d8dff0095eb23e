// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/telemetry"
)

// Operation is one pipeline stage. Depends names the operations whose
// artifacts it reads; the pipeline orders stages so dependencies run first.
type Operation interface {
	Name() string
	Depends() []string
	Run(ctx context.Context, s *State) error
}

// Pipeline is a set of operations executed in dependency order.
type Pipeline struct {
	ops []Operation
	log *slog.Logger
}

// NewPipeline orders the given operations topologically. Unknown or cyclic
// dependencies are configuration bugs and fail construction.
func NewPipeline(log *slog.Logger, ops ...Operation) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	ordered, err := order(ops)
	if err != nil {
		return nil, err
	}
	return &Pipeline{ops: ordered, log: log}, nil
}

// order is a Kahn topological sort. Dependencies on operations absent from
// this pipeline are skipped: an optional stage being disabled must not break
// the stages after it.
func order(ops []Operation) ([]Operation, error) {
	present := make(map[string]Operation, len(ops))
	for _, op := range ops {
		if _, dup := present[op.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate operation %q", core.ErrValidation, op.Name())
		}
		present[op.Name()] = op
	}

	indegree := make(map[string]int, len(ops))
	dependents := make(map[string][]string, len(ops))
	for _, op := range ops {
		indegree[op.Name()] += 0
		for _, dep := range op.Depends() {
			if _, ok := present[dep]; !ok {
				continue
			}
			indegree[op.Name()]++
			dependents[dep] = append(dependents[dep], op.Name())
		}
	}

	// Seed the queue in declaration order so ties resolve deterministically.
	var queue []string
	for _, op := range ops {
		if indegree[op.Name()] == 0 {
			queue = append(queue, op.Name())
		}
	}

	ordered := make([]Operation, 0, len(ops))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, present[name])
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(ordered) != len(ops) {
		return nil, fmt.Errorf("%w: operation dependency cycle", core.ErrValidation)
	}
	return ordered, nil
}

// Run executes the pipeline over the state. The first stage error aborts the
// run; quality-gate statuses are not errors and do not.
func (p *Pipeline) Run(ctx context.Context, s *State) error {
	for _, op := range p.ops {
		opCtx, span := telemetry.Tracer().Start(ctx, "search."+op.Name())
		span.SetAttributes(attribute.String("collection_id", s.CollectionID.String()))
		err := op.Run(opCtx, s)
		span.End()
		if err != nil {
			return fmt.Errorf("%s: %w", op.Name(), err)
		}
	}
	return nil
}
