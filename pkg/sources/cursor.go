// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"fmt"
	"sync"
)

// CursorTracker accumulates per-stream watermarks during a run. Sources
// call Observe as they iterate; the maximum observed value per stream wins.
// The engine snapshots the tracker only after the job succeeds, so a failed
// run never advances the cursor.
type CursorTracker struct {
	mu     sync.Mutex
	values map[string]any
}

// NewCursorTracker seeds a tracker with the cursor of the last successful
// run. initial may be nil on the first run.
func NewCursorTracker(initial map[string]any) *CursorTracker {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &CursorTracker{values: values}
}

// Value returns the current watermark of a stream, used by sources to build
// their incremental predicate.
func (t *CursorTracker) Value(stream string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[stream]
	return v, ok
}

// Observe records a candidate watermark, keeping the maximum.
func (t *CursorTracker) Observe(stream string, value any) {
	if value == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.values[stream]
	if !ok || cursorLess(current, value) {
		t.values[stream] = value
	}
}

// Snapshot returns a copy of the watermarks for persistence.
func (t *CursorTracker) Snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// cursorLess orders two JSON-safe cursor values. Numbers compare
// numerically, strings lexically (RFC 3339 timestamps order correctly this
// way). A type change takes the new value.
func cursorLess(current, candidate any) bool {
	cf, cok := toFloat(current)
	nf, nok := toFloat(candidate)
	if cok && nok {
		return cf < nf
	}
	cs, csok := current.(string)
	ns, nsok := candidate.(string)
	if csok && nsok {
		return cs < ns
	}
	return fmt.Sprintf("%T", current) != fmt.Sprintf("%T", candidate)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
