// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sources defines the connector framework: the Source contract and
// its stream type, the descriptor registry, cursor tracking for incremental
// syncs, and the shared HTTP client with rate limiting, retry, and token
// refresh baked in.
package sources

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

// streamBuffer decouples the producer from the consumer enough to keep a
// paginated API call ahead of the pipeline.
const streamBuffer = 64

// Item is one element of a source stream: an entity, or the record of an
// entity whose production failed non-retriably and was skipped.
type Item struct {
	Entity *entity.Entity

	// Err is a per-entity production failure. The stream continues; the
	// engine counts it and records the cause.
	Err error
}

// Stream is a finite, single-use sequence of entities. Drain Items until it
// closes, then check Err for the terminal stream error.
type Stream struct {
	items chan Item
	err   error
}

// Items returns the stream channel. It closes when the source is drained,
// fails terminally, or the context is cancelled.
func (s *Stream) Items() <-chan Item { return s.items }

// Err reports the terminal stream error. Only valid after Items has closed.
func (s *Stream) Err() error { return s.err }

// Emitter is handed to a stream producer to push entities downstream.
type Emitter struct {
	items chan<- Item
}

// Emit sends one entity, honoring cancellation while the consumer is busy.
func (e *Emitter) Emit(ctx context.Context, ent *entity.Entity) error {
	select {
	case e.items <- Item{Entity: ent}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Skip records a failed entity without ending the stream.
func (e *Emitter) Skip(ctx context.Context, cause error) error {
	select {
	case e.items <- Item{Err: cause}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts produce in a goroutine and returns its stream. The producer's
// return value becomes the stream's terminal error; the channel closes
// after it is recorded.
func Run(ctx context.Context, produce func(ctx context.Context, emit *Emitter) error) *Stream {
	s := &Stream{items: make(chan Item, streamBuffer)}
	emitter := &Emitter{items: s.items}
	go func() {
		defer close(s.items)
		s.err = produce(ctx, emitter)
	}()
	return s
}

// StreamGuard enforces the single-use stream contract for sources. Embed a
// pointer call in Stream implementations: the first Acquire wins, later
// calls fail.
type StreamGuard struct {
	used atomic.Bool
}

// Acquire claims the stream. Returns false when it was already consumed.
func (g *StreamGuard) Acquire() bool {
	return g.used.CompareAndSwap(false, true)
}

// GoneError marks a per-entity stream failure as a source-side deletion.
// Connectors pass it to Emitter.Skip with the deleted entity's id; the
// engine drops the entity's points instead of counting a failure.
type GoneError struct {
	EntityID string
}

func (e *GoneError) Error() string { return fmt.Sprintf("entity %s gone at source", e.EntityID) }

// Unwrap makes errors.Is(err, core.ErrGone) work.
func (e *GoneError) Unwrap() error { return core.ErrGone }
