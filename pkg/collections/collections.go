// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package collections manages the lifecycle of collections and keeps the
// metastore rows and vector store namespaces in step. Every collection owns
// exactly one namespace keyed by its UUID; orphan detection reports drift in
// either direction.
package collections

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

const (
	maxNameLength = 128

	// suffixLength is the random tail appended to readable ids so renamed
	// or recreated collections never collide.
	suffixLength = 6
)

// Service manages collections.
type Service struct {
	collections metastore.CollectionStore
	connections metastore.ConnectionStore
	store       vectorstore.Store
	dimension   int
	log         *slog.Logger
}

// New builds a collection service. The dimension is the embedding width new
// namespaces are registered with.
func New(collections metastore.CollectionStore, connections metastore.ConnectionStore, store vectorstore.Store, dimension int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		collections: collections,
		connections: connections,
		store:       store,
		dimension:   dimension,
		log:         log,
	}
}

// Create validates the name, derives a readable id, persists the collection
// and registers its vector namespace eagerly so searches against a freshly
// created collection are empty rather than errors.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, name string) (core.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Collection{}, fmt.Errorf("%w: collection name is required", core.ErrValidation)
	}
	if len(name) > maxNameLength {
		return core.Collection{}, fmt.Errorf("%w: collection name exceeds %d characters", core.ErrValidation, maxNameLength)
	}

	readableID, err := ReadableID(name)
	if err != nil {
		return core.Collection{}, err
	}

	coll := core.Collection{
		ID:             uuid.New(),
		ReadableID:     readableID,
		Name:           name,
		OrganizationID: orgID,
	}
	if err := s.collections.Create(ctx, &coll); err != nil {
		return core.Collection{}, fmt.Errorf("creating collection: %w", err)
	}
	if err := s.store.EnsureCollection(ctx, coll.ID, s.dimension); err != nil {
		return core.Collection{}, fmt.Errorf("registering vector namespace: %w", err)
	}

	s.log.Info("collection created",
		"collection_id", coll.ID.String(), "readable_id", coll.ReadableID, "org_id", orgID.String())
	return coll, nil
}

// Get resolves a collection by readable id within the organization.
func (s *Service) Get(ctx context.Context, orgID uuid.UUID, readableID string) (core.Collection, error) {
	return s.collections.GetByReadableID(ctx, orgID, readableID)
}

// List returns the organization's collections.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]core.Collection, error) {
	return s.collections.List(ctx, orgID)
}

// Delete removes a collection and its vector namespace. Collections with
// live source connections cannot be deleted; the connections hold cursors
// and credentials that would silently leak.
func (s *Service) Delete(ctx context.Context, orgID uuid.UUID, readableID string) error {
	coll, err := s.collections.GetByReadableID(ctx, orgID, readableID)
	if err != nil {
		return err
	}

	conns, err := s.connections.ListByCollection(ctx, orgID, coll.ID)
	if err != nil {
		return fmt.Errorf("listing connections: %w", err)
	}
	if len(conns) > 0 {
		return fmt.Errorf("%w: collection %s has %d source connections, delete them first",
			core.ErrValidation, readableID, len(conns))
	}

	// Namespace first: if the row delete then fails, the orphan report
	// flags a collection without a namespace, which is recoverable. The
	// other order would leak namespaces invisible to per-org listings.
	if err := s.store.DeleteCollection(ctx, coll.ID); err != nil {
		return fmt.Errorf("deleting vector namespace: %w", err)
	}
	if err := s.collections.Delete(ctx, orgID, coll.ID); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}

	s.log.Info("collection deleted", "collection_id", coll.ID.String(), "readable_id", readableID)
	return nil
}

// Orphans is the drift report between metastore rows and vector namespaces.
type Orphans struct {
	// Namespaces exist in the vector store with no collection row. Usually
	// a half-finished delete; safe to prune.
	Namespaces []uuid.UUID
	// Collections have a row but no namespace. The next sync or an
	// EnsureCollection recreates it empty.
	Collections []uuid.UUID
}

// DetectOrphans compares both directions. It spans organizations: drift is
// an operational concern, not a tenant one.
func (s *Service) DetectOrphans(ctx context.Context) (Orphans, error) {
	var report Orphans

	rows, err := s.collections.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("listing collections: %w", err)
	}
	namespaces, err := s.store.Collections(ctx)
	if err != nil {
		return report, fmt.Errorf("listing namespaces: %w", err)
	}

	known := make(map[uuid.UUID]bool, len(rows))
	for _, c := range rows {
		known[c.ID] = true
	}
	present := make(map[uuid.UUID]bool, len(namespaces))
	for _, ns := range namespaces {
		present[ns] = true
		if !known[ns] {
			report.Namespaces = append(report.Namespaces, ns)
		}
	}
	for _, c := range rows {
		if !present[c.ID] {
			report.Collections = append(report.Collections, c.ID)
		}
	}
	return report, nil
}

// PruneOrphans deletes namespaces that have no collection row and recreates
// empty namespaces for rows that lost theirs.
func (s *Service) PruneOrphans(ctx context.Context) (Orphans, error) {
	report, err := s.DetectOrphans(ctx)
	if err != nil {
		return report, err
	}
	for _, ns := range report.Namespaces {
		if err := s.store.DeleteCollection(ctx, ns); err != nil {
			return report, fmt.Errorf("pruning namespace %s: %w", ns, err)
		}
		s.log.Warn("pruned orphaned vector namespace", "collection_id", ns.String())
	}
	for _, id := range report.Collections {
		if err := s.store.EnsureCollection(ctx, id, s.dimension); err != nil {
			return report, fmt.Errorf("recreating namespace %s: %w", id, err)
		}
		s.log.Warn("recreated missing vector namespace", "collection_id", id.String())
	}
	return report, nil
}

// ReadableID derives the human-friendly handle: the slugified name plus a
// random suffix ("Finance Docs" -> "finance-docs-x4k2ma").
func ReadableID(name string) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		slug = "collection"
	}
	suffix, err := randomSuffix(suffixLength)
	if err != nil {
		return "", fmt.Errorf("generating readable id: %w", err)
	}
	return slug + "-" + suffix, nil
}

// Slugify lowercases and reduces a name to hyphen-separated alphanumeric
// runs.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// Non-ASCII letters are dropped rather than transliterated.
			if r > unicode.MaxASCII {
				continue
			}
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf), nil
}
