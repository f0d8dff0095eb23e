// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ContentHash returns the sha256 of the canonical JSON encoding of the
// entity payload. Go's JSON encoder emits map keys in sorted order, so the
// encoding is stable for the JSON-safe values payloads are restricted to.
// Vectors and system metadata are excluded: the hash answers "did the source
// record change", not "did we re-embed it".
func (e *Entity) ContentHash() (string, error) {
	canonical, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload for %s: %w", e.EntityID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// PointID derives the deterministic destination id for one chunk of an
// entity within a collection. Re-running a sync over unchanged data yields
// identical point ids, which is what makes destination writes idempotent.
func PointID(collectionID uuid.UUID, entityID string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(collectionID, []byte(fmt.Sprintf("%s:%d", entityID, chunkIndex)))
}

// PointIDs returns the point ids for all chunks of an entity, given its
// chunk count. A count of zero is treated as a single unsplit chunk.
func PointIDs(collectionID uuid.UUID, entityID string, chunkCount int) []uuid.UUID {
	if chunkCount < 1 {
		chunkCount = 1
	}
	ids := make([]uuid.UUID, chunkCount)
	for i := range ids {
		ids[i] = PointID(collectionID, entityID, i)
	}
	return ids
}
