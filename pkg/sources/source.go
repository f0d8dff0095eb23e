// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
)

// Source is a connector instance bound to one connection's credentials and
// configuration.
type Source interface {
	// ShortName identifies the connector kind ("postgresql", "github").
	ShortName() string

	// Validate performs a lightweight authorized call to prove the
	// credentials work before a job is committed to.
	Validate(ctx context.Context) error

	// Stream produces the finite entity stream. Single use: a second call
	// on the same instance fails.
	Stream(ctx context.Context) (*Stream, error)
}

// CursorSource is implemented by sources that support incremental syncs.
type CursorSource interface {
	Source

	// DefaultCursorField names the field used as watermark when the
	// connection does not override it.
	DefaultCursorField() string

	// ValidateCursorField rejects fields the source cannot order by.
	ValidateCursorField(field string) error

	// CursorState returns the per-stream watermarks observed so far. The
	// engine persists it only after the job succeeds end to end.
	CursorState() map[string]any
}

// ErrStreamConsumed is returned by Stream when called a second time.
var ErrStreamConsumed = fmt.Errorf("%w: stream already consumed", core.ErrInvariant)

// Deps is everything a factory needs to construct a source instance.
type Deps struct {
	// Credentials are the decrypted credential fields, or the fields
	// disclosed by an auth provider in direct mode.
	Credentials map[string]any

	// Config carries per-connection settings and template fields.
	Config map[string]any

	// Cursor is the watermark map from the last successful run, nil on the
	// first run.
	Cursor map[string]any

	// CursorField overrides the source's default watermark field.
	CursorField string

	// Tokens is set for OAuth connections so API calls can refresh on 401.
	Tokens *auth.TokenManager

	Logger *slog.Logger
}

// Factory constructs a source instance.
type Factory func(ctx context.Context, deps Deps) (Source, error)

// BatchOptions is a source's opt-in declaration of bounded-concurrency
// generation over a natural partition (per repository, per calendar).
type BatchOptions struct {
	// BatchSize bounds the number of partitions generated concurrently.
	BatchSize int

	// MaxQueueSize bounds entities buffered ahead of the consumer.
	MaxQueueSize int

	// PreserveOrder forces sequential partition generation so the global
	// entity order matches partition order.
	PreserveOrder bool

	// StopOnError aborts the whole stream on the first partition failure
	// instead of skipping the partition.
	StopOnError bool
}

// Descriptor is the registered description of a connector kind.
type Descriptor struct {
	ShortName   string
	DisplayName string

	// AuthVariants lists the authentication mechanisms the source accepts.
	AuthVariants []core.AuthVariant

	// TemplateFields are config keys that must be present and non-empty to
	// construct the source ("subdomain", "host").
	TemplateFields []string

	// DefaultCursorField is empty for full-refresh-only sources.
	DefaultCursorField string

	// RetryAfterRefresh reports whether a request that failed with 401 is
	// retried once after a token refresh.
	RetryAfterRefresh bool

	// Batch is non-nil when the source opts into concurrent generation.
	Batch *BatchOptions

	New Factory
}

// SupportsAuthVariant reports whether the descriptor accepts variant.
func (d Descriptor) SupportsAuthVariant(variant core.AuthVariant) bool {
	for _, v := range d.AuthVariants {
		if v == variant {
			return true
		}
	}
	return false
}

// ValidateConfig checks that every template field is present and non-empty.
func (d Descriptor) ValidateConfig(config map[string]any) error {
	for _, field := range d.TemplateFields {
		v, ok := config[field]
		if !ok || v == nil {
			return fmt.Errorf("%w: source %s requires config field %q", core.ErrValidation, d.ShortName, field)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("%w: source %s requires config field %q", core.ErrValidation, d.ShortName, field)
		}
	}
	return nil
}
