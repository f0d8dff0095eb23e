// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorTrackerKeepsMaximum(t *testing.T) {
	t.Parallel()

	t.Run("timestamps", func(t *testing.T) {
		t.Parallel()
		tr := NewCursorTracker(nil)

		tr.Observe("users", "2025-03-01T10:00:00Z")
		tr.Observe("users", "2025-02-20T09:00:00Z")
		v, ok := tr.Value("users")
		require.True(t, ok)
		assert.Equal(t, "2025-03-01T10:00:00Z", v)

		tr.Observe("users", "2025-03-01T10:00:01Z")
		v, _ = tr.Value("users")
		assert.Equal(t, "2025-03-01T10:00:01Z", v)
	})

	t.Run("numbers across types", func(t *testing.T) {
		t.Parallel()
		tr := NewCursorTracker(nil)

		tr.Observe("events", int64(100))
		tr.Observe("events", float64(99.5))
		v, _ := tr.Value("events")
		assert.Equal(t, int64(100), v)

		// JSON round trips integers as float64; numeric comparison still
		// holds across the type change.
		tr.Observe("events", float64(101))
		v, _ = tr.Value("events")
		assert.Equal(t, float64(101), v)
	})
}

func TestCursorTrackerTypeChangeTakesNewValue(t *testing.T) {
	t.Parallel()

	tr := NewCursorTracker(map[string]any{"orders": "2025-01-01T00:00:00Z"})
	tr.Observe("orders", int64(42))

	v, ok := tr.Value("orders")
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
}

func TestCursorTrackerSeedAndSnapshot(t *testing.T) {
	t.Parallel()

	seed := map[string]any{"users": "2025-01-15T00:00:00Z"}
	tr := NewCursorTracker(seed)

	// Seed map mutations do not leak into the tracker.
	seed["users"] = "mutated"
	v, _ := tr.Value("users")
	assert.Equal(t, "2025-01-15T00:00:00Z", v)

	tr.Observe("repos", float64(7))
	tr.Observe("ignored", nil)

	snap := tr.Snapshot()
	require.Equal(t, map[string]any{
		"users": "2025-01-15T00:00:00Z",
		"repos": float64(7),
	}, snap)

	// Snapshot is a copy.
	snap["users"] = "overwritten"
	v, _ = tr.Value("users")
	assert.Equal(t, "2025-01-15T00:00:00Z", v)

	_, ok := tr.Value("unknown")
	assert.False(t, ok)
}
