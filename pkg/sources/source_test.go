// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
)

// fakeSource is a minimal connector used across the framework tests.
type fakeSource struct {
	guard StreamGuard
}

func (f *fakeSource) ShortName() string { return "fake" }

func (f *fakeSource) Validate(context.Context) error { return nil }

func (f *fakeSource) Stream(ctx context.Context) (*Stream, error) {
	if !f.guard.Acquire() {
		return nil, ErrStreamConsumed
	}
	return Run(ctx, func(ctx context.Context, emit *Emitter) error {
		return emit.Emit(ctx, &entity.Entity{EntityID: "one"})
	}), nil
}

func fakeFactory(context.Context, Deps) (Source, error) { return &fakeSource{}, nil }

func TestDescriptorValidateConfig(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		ShortName:      "postgresql",
		TemplateFields: []string{"host", "database"},
	}

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{
			name:   "all fields present",
			config: map[string]any{"host": "db.internal", "database": "app", "schema": "public"},
		},
		{
			name:    "missing field",
			config:  map[string]any{"host": "db.internal"},
			wantErr: true,
		},
		{
			name:    "nil value",
			config:  map[string]any{"host": "db.internal", "database": nil},
			wantErr: true,
		},
		{
			name:    "empty string",
			config:  map[string]any{"host": "", "database": "app"},
			wantErr: true,
		},
		{
			name:   "non-string values pass presence check",
			config: map[string]any{"host": "db.internal", "database": 5432},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := d.ValidateConfig(tt.config)
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDescriptorSupportsAuthVariant(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		ShortName:    "github",
		AuthVariants: []core.AuthVariant{core.AuthOAuthBrowser, core.AuthOAuthToken},
	}

	assert.True(t, d.SupportsAuthVariant(core.AuthOAuthBrowser))
	assert.True(t, d.SupportsAuthVariant(core.AuthOAuthToken))
	assert.False(t, d.SupportsAuthVariant(core.AuthDirect))
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	require.Error(t, r.Register(Descriptor{New: fakeFactory}), "missing short name")
	require.Error(t, r.Register(Descriptor{ShortName: "nofactory"}), "missing factory")

	require.NoError(t, r.Register(Descriptor{ShortName: "postgresql", New: fakeFactory}))
	require.NoError(t, r.Register(Descriptor{ShortName: "github", New: fakeFactory}))
	require.Error(t, r.Register(Descriptor{ShortName: "postgresql", New: fakeFactory}), "duplicate")

	d, ok := r.Get("github")
	require.True(t, ok)
	assert.Equal(t, "github", d.ShortName)

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "github", list[0].ShortName)
	assert.Equal(t, "postgresql", list[1].ShortName)

	assert.Panics(t, func() {
		r.MustRegister(Descriptor{ShortName: "github", New: fakeFactory})
	})
}

func TestErrStreamConsumedIsInvariant(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, ErrStreamConsumed, core.ErrInvariant)
}
