// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package postgres ingests PostgreSQL tables as polymorphic entities. Table
// shapes are discovered from information_schema at sync time, rows stream
// with keyset pagination, and incremental syncs watermark on a
// caller-chosen cursor column.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/sources"
)

const (
	shortName = "postgresql"
	pageSize  = 500
)

func init() {
	sources.DefaultRegistry.MustRegister(sources.Descriptor{
		ShortName:      shortName,
		DisplayName:    "PostgreSQL",
		AuthVariants:   []core.AuthVariant{core.AuthDirect},
		TemplateFields: []string{"host", "database"},
		Batch:          &sources.BatchOptions{BatchSize: 4, MaxQueueSize: 256},
		New:            New,
	})
}

type config struct {
	host     string
	port     int
	database string
	schema   string
	tables   []string
	user     string
	password string
}

type source struct {
	cfg         config
	cursorField string
	tracker     *sources.CursorTracker
	guard       sources.StreamGuard
	logger      *slog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New builds a PostgreSQL source from connection credentials and config.
func New(_ context.Context, deps sources.Deps) (sources.Source, error) {
	cfg, err := parseConfig(deps)
	if err != nil {
		return nil, err
	}
	if deps.CursorField != "" {
		if err := validateCursorField(deps.CursorField); err != nil {
			return nil, err
		}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}
	return &source{
		cfg:         cfg,
		cursorField: deps.CursorField,
		tracker:     sources.NewCursorTracker(deps.Cursor),
		logger:      log,
	}, nil
}

func parseConfig(deps sources.Deps) (config, error) {
	cfg := config{
		host:     stringField(deps.Config, "host"),
		port:     intField(deps.Config, "port", 5432),
		database: stringField(deps.Config, "database"),
		schema:   stringField(deps.Config, "schema"),
		user:     stringField(deps.Credentials, "user"),
		password: stringField(deps.Credentials, "password"),
	}
	if cfg.host == "" || cfg.database == "" {
		return config{}, fmt.Errorf("%w: postgresql requires host and database", core.ErrValidation)
	}
	if cfg.user == "" {
		return config{}, fmt.Errorf("%w: postgresql requires a user credential", core.ErrValidation)
	}
	if cfg.schema == "" {
		cfg.schema = "public"
	}
	if raw := stringField(deps.Config, "tables"); raw != "" && raw != "*" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.tables = append(cfg.tables, t)
			}
		}
	}
	return cfg, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s *source) dsn() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.cfg.user, s.cfg.password),
		Host:   fmt.Sprintf("%s:%d", s.cfg.host, s.cfg.port),
		Path:   "/" + s.cfg.database,
	}
	return u.String()
}

func (s *source) ShortName() string { return shortName }

func (s *source) connect(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := pgxpool.New(ctx, s.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: parsing connection string: %v", core.ErrValidation, err)
	}
	s.pool = pool
	return pool, nil
}

// Close releases the connection pool. The engine closes sources that
// implement io.Closer once the job finishes.
func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// Validate proves the credentials can reach the database and see the
// configured schema.
func (s *source) Validate(ctx context.Context) error {
	pool, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: connecting to %s/%s: %v", core.ErrAuthFailed, s.cfg.host, s.cfg.database, err)
	}
	var visible int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1`,
		s.cfg.schema,
	).Scan(&visible)
	if err != nil {
		return fmt.Errorf("%w: listing schema %s: %v", core.ErrAuthFailed, s.cfg.schema, err)
	}
	if visible == 0 {
		return fmt.Errorf("%w: schema %s has no visible tables", core.ErrValidation, s.cfg.schema)
	}
	return nil
}

func (s *source) DefaultCursorField() string { return "" }

// ValidateCursorField accepts any plain SQL identifier. Column existence is
// checked per table during discovery.
func (s *source) ValidateCursorField(field string) error {
	return validateCursorField(field)
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

func validateCursorField(field string) error {
	if !identifierPattern.MatchString(field) {
		return fmt.Errorf("%w: cursor field %q is not a valid column name", core.ErrValidation, field)
	}
	return nil
}

func (s *source) CursorState() map[string]any { return s.tracker.Snapshot() }

// Stream discovers the selected tables and fans row production across them.
func (s *source) Stream(ctx context.Context) (*sources.Stream, error) {
	if !s.guard.Acquire() {
		return nil, sources.ErrStreamConsumed
	}
	pool, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := s.discoverTables(ctx, pool)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no matching tables in schema %s", core.ErrValidation, s.cfg.schema)
	}

	opts := sources.BatchOptions{BatchSize: 4, StopOnError: true}
	return sources.Run(ctx, func(ctx context.Context, emit *sources.Emitter) error {
		return sources.RunPartitions(ctx, opts, tables, func(ctx context.Context, tbl tableMeta) error {
			return s.streamTable(ctx, pool, emit, tbl)
		})
	}), nil
}

func (s *source) tableEntity(tbl tableMeta, payload map[string]any) *entity.Entity {
	qualified := tbl.qualified()
	id := rowEntityID(tbl, payload)

	var text strings.Builder
	text.WriteString(qualified)
	for _, col := range tbl.columns {
		v, ok := payload[col.Name]
		if !ok || v == nil {
			continue
		}
		fmt.Fprintf(&text, "\n%s: %v", col.Name, v)
	}

	return &entity.Entity{
		EntityID:       id,
		Kind:           entity.KindPolymorphic,
		Payload:        payload,
		EmbeddableText: text.String(),
		Breadcrumbs: []entity.Breadcrumb{{
			EntityID: "table:" + qualified,
			Name:     tbl.name,
			Type:     "table",
		}},
		Table: &entity.Table{
			Schema:      tbl.schema,
			Table:       tbl.name,
			Columns:     tbl.columns,
			PrimaryKeys: tbl.primaryKeys,
		},
	}
}

// rowEntityID keys a row by its primary key values, falling back to a
// content digest for keyless tables.
func rowEntityID(tbl tableMeta, payload map[string]any) string {
	qualified := tbl.qualified()
	if len(tbl.primaryKeys) > 0 {
		parts := make([]string, len(tbl.primaryKeys))
		for i, pk := range tbl.primaryKeys {
			parts[i] = fmt.Sprintf("%v", payload[pk])
		}
		return fmt.Sprintf("row:%s:%s", qualified, strings.Join(parts, "/"))
	}
	e := entity.Entity{Payload: payload}
	hash, err := e.ContentHash()
	if err != nil || len(hash) < 12 {
		return fmt.Sprintf("row:%s:%v", qualified, payload)
	}
	return fmt.Sprintf("row:%s:%s", qualified, hash[:12])
}
