// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package embeddings

import "sync"

// embedCache is a bounded text→vector cache. Eviction is whole-map reset on
// overflow; embedding inputs repeat heavily within a sync (identical chunks,
// repeated queries) and rarely across syncs, so anything fancier buys little.
type embedCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	max     int
	hits    int64
	misses  int64
}

func newEmbedCache(max int) *embedCache {
	return &embedCache{entries: make(map[string][]float32, max), max: max}
}

func (c *embedCache) Get(text string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[text]; ok {
		c.hits++
		return v
	}
	c.misses++
	return nil
}

func (c *embedCache) Put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.entries = make(map[string][]float32, c.max)
	}
	c.entries[text] = vec
}

func (c *embedCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
