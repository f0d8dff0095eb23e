// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the metastore contracts on SQLite with
// goose-managed migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/metastore"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB wraps the SQLite handle. The connection pool is capped at one so
// transactions serialize instead of failing with SQLITE_BUSY.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the metadata database at dsn and applies all
// pending migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// OpenInMemory opens an isolated in-memory metadata database.
func OpenInMemory(ctx context.Context) (*DB, error) {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Open(ctx, fmt.Sprintf("file:meta_%s?mode=memory&cache=shared", name))
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// NewStores returns every metastore contract backed by this database.
func NewStores(d *DB) metastore.Stores {
	return metastore.Stores{
		Organizations: &OrganizationStore{db: d.db},
		Collections:   &CollectionStore{db: d.db},
		Connections:   &ConnectionStore{db: d.db},
		Credentials:   &CredentialStore{db: d.db},
		Syncs:         &SyncStore{db: d.db},
		Jobs:          &JobStore{db: d.db},
		Dags:          &DagStore{db: d.db},
		Cursors:       &CursorStore{db: d.db},
		Entities:      &EntityStateStore{db: d.db},
		Billing:       &BillingStore{db: d.db},
	}
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// The embedded filesystem has files under "migrations/"; strip the
	// prefix to get a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// notFound maps sql.ErrNoRows onto the domain sentinel, keeping context.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return err
}

// timeLayout keeps a fixed-width fraction so the lexicographic order of
// stored timestamps matches chronological order in SQL comparisons.
// RFC3339Nano would trim trailing zeros and break ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullableTime formats an optional timestamp for storage.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// scanNullableTime parses an optional stored timestamp.
func scanNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
