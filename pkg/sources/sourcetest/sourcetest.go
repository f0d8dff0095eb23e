// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sourcetest provides a scripted in-memory source for exercising
// the sync pipeline without a live backend.
package sourcetest

import (
	"context"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/sources"
)

// Step is one scripted stream event: an emitted entity or a skip record.
type Step struct {
	Entity *entity.Entity
	Skip   error
}

// Emit scripts the emission of one entity.
func Emit(e *entity.Entity) Step { return Step{Entity: e} }

// Skip scripts a per-entity production failure.
func Skip(err error) Step { return Step{Skip: err} }

// Source replays its script once. The zero value is an empty, always-valid
// source.
type Source struct {
	// Name defaults to "scripted".
	Name string

	Steps []Step

	// Terminal ends the stream after the script, nil for success.
	Terminal error

	// ValidateErr fails Validate.
	ValidateErr error

	// Cursor is what CursorState reports after the run.
	Cursor map[string]any

	// BlockAfter pauses the stream after that many steps until Release is
	// closed, for cancellation tests. Only honored when Release is set.
	BlockAfter int
	Release    chan struct{}

	guard sources.StreamGuard
}

func (s *Source) ShortName() string {
	if s.Name == "" {
		return "scripted"
	}
	return s.Name
}

func (s *Source) Validate(context.Context) error { return s.ValidateErr }

func (s *Source) DefaultCursorField() string { return "updated_at" }

func (s *Source) ValidateCursorField(string) error { return nil }

func (s *Source) CursorState() map[string]any { return s.Cursor }

func (s *Source) Stream(ctx context.Context) (*sources.Stream, error) {
	if !s.guard.Acquire() {
		return nil, sources.ErrStreamConsumed
	}
	return sources.Run(ctx, func(ctx context.Context, emit *sources.Emitter) error {
		for i, step := range s.Steps {
			if s.Release != nil && i == s.BlockAfter {
				select {
				case <-s.Release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			var err error
			if step.Skip != nil {
				err = emit.Skip(ctx, step.Skip)
			} else {
				err = emit.Emit(ctx, step.Entity)
			}
			if err != nil {
				return err
			}
		}
		return s.Terminal
	}), nil
}

// Factory wraps one scripted source instance for registry wiring.
func Factory(src *Source) sources.Factory {
	return func(context.Context, sources.Deps) (sources.Source, error) {
		return src, nil
	}
}

// Descriptor returns a registrable descriptor around one scripted source.
func Descriptor(src *Source) sources.Descriptor {
	return sources.Descriptor{
		ShortName:          src.ShortName(),
		DisplayName:        "Scripted test source",
		AuthVariants:       []core.AuthVariant{core.AuthDirect},
		DefaultCursorField: src.DefaultCursorField(),
		New:                Factory(src),
	}
}

// Chunk builds a minimal chunk entity for scripts.
func Chunk(id, text string) *entity.Entity {
	return &entity.Entity{
		EntityID:       id,
		Kind:           entity.KindChunk,
		Payload:        map[string]any{"id": id, "text": text},
		EmbeddableText: text,
	}
}
