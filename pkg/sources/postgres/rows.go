// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/sources"
)

type tableMeta struct {
	schema      string
	name        string
	columns     []entity.Column
	primaryKeys []string
}

func (t tableMeta) qualified() string { return t.schema + "." + t.name }

// singlePK returns the primary key column for tables keyed by exactly one
// column, which is what keyset pagination needs.
func (t tableMeta) singlePK() (string, bool) {
	if len(t.primaryKeys) == 1 {
		return t.primaryKeys[0], true
	}
	return "", false
}

func (t tableMeta) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *source) discoverTables(ctx context.Context, pool *pgxpool.Pool) ([]tableMeta, error) {
	names, err := s.listTableNames(ctx, pool)
	if err != nil {
		return nil, err
	}

	selected := names
	if len(s.cfg.tables) > 0 {
		byName := make(map[string]bool, len(names))
		for _, n := range names {
			byName[n] = true
		}
		selected = make([]string, 0, len(s.cfg.tables))
		for _, want := range s.cfg.tables {
			if !byName[want] {
				return nil, fmt.Errorf("%w: table %s.%s does not exist", core.ErrValidation, s.cfg.schema, want)
			}
			selected = append(selected, want)
		}
	}

	tables := make([]tableMeta, 0, len(selected))
	for _, name := range selected {
		tbl := tableMeta{schema: s.cfg.schema, name: name}
		if tbl.columns, err = s.listColumns(ctx, pool, name); err != nil {
			return nil, err
		}
		if tbl.primaryKeys, err = s.listPrimaryKeys(ctx, pool, name); err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}
	return tables, nil
}

func (s *source) listTableNames(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`,
		s.cfg.schema,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", s.cfg.schema, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *source) listColumns(ctx context.Context, pool *pgxpool.Pool, table string) ([]entity.Column, error) {
	rows, err := pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		s.cfg.schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("describing %s.%s: %w", s.cfg.schema, table, err)
	}
	defer rows.Close()

	var cols []entity.Column
	for rows.Next() {
		var col entity.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *source) listPrimaryKeys(ctx context.Context, pool *pgxpool.Pool, table string) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_name = tc.constraint_name
		  AND kcu.table_schema = tc.table_schema
		 WHERE tc.table_schema = $1 AND tc.table_name = $2
		   AND tc.constraint_type = 'PRIMARY KEY'
		 ORDER BY kcu.ordinal_position`,
		s.cfg.schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("reading primary key of %s.%s: %w", s.cfg.schema, table, err)
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

// streamTable pages through one table and emits a polymorphic entity per
// row. Incremental mode walks (cursor_field, pk) keysets from the stored
// watermark; full refresh walks the primary key, or OFFSET pages for
// keyless tables.
func (s *source) streamTable(ctx context.Context, pool *pgxpool.Pool, emit *sources.Emitter, tbl tableMeta) error {
	stream := tbl.qualified()
	cursorCol := s.cursorField
	if cursorCol != "" && !tbl.hasColumn(cursorCol) {
		s.logger.Warn("cursor field missing on table, falling back to full refresh",
			"table", stream, "cursor_field", cursorCol)
		cursorCol = ""
	}

	pk, hasPK := tbl.singlePK()
	switch {
	case cursorCol != "" && hasPK:
		return s.streamKeyset(ctx, pool, emit, tbl, cursorCol, pk)
	case cursorCol != "":
		return s.streamKeyset(ctx, pool, emit, tbl, cursorCol, "")
	case hasPK:
		return s.streamKeyset(ctx, pool, emit, tbl, pk, "")
	default:
		return s.streamOffset(ctx, pool, emit, tbl)
	}
}

func (s *source) streamKeyset(ctx context.Context, pool *pgxpool.Pool, emit *sources.Emitter, tbl tableMeta, orderCol, tieCol string) error {
	stream := tbl.qualified()
	table := pgx.Identifier{tbl.schema, tbl.name}.Sanitize()
	order := pgx.Identifier{orderCol}.Sanitize()

	orderBy := order
	if tieCol != "" {
		orderBy = order + ", " + pgx.Identifier{tieCol}.Sanitize()
	}

	var last any
	if orderCol == s.cursorField {
		last, _ = s.tracker.Value(stream)
	}
	var lastTie any

	for {
		query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s LIMIT %d`, table, orderBy, pageSize)
		var args []any
		switch {
		case last != nil && lastTie != nil:
			query = fmt.Sprintf(`SELECT * FROM %s WHERE (%s, %s) > ($1, $2) ORDER BY %s LIMIT %d`,
				table, order, pgx.Identifier{tieCol}.Sanitize(), orderBy, pageSize)
			args = []any{last, lastTie}
		case last != nil:
			query = fmt.Sprintf(`SELECT * FROM %s WHERE %s > $1 ORDER BY %s LIMIT %d`,
				table, order, orderBy, pageSize)
			args = []any{last}
		}

		n, lastRow, err := s.emitPage(ctx, pool, emit, tbl, query, args)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		last = lastRow[orderCol]
		if tieCol != "" {
			lastTie = lastRow[tieCol]
		}
		if orderCol == s.cursorField {
			s.tracker.Observe(stream, normalizeValue(last))
		}
		if n < pageSize {
			return nil
		}
	}
}

func (s *source) streamOffset(ctx context.Context, pool *pgxpool.Pool, emit *sources.Emitter, tbl tableMeta) error {
	table := pgx.Identifier{tbl.schema, tbl.name}.Sanitize()
	for offset := 0; ; offset += pageSize {
		query := fmt.Sprintf(`SELECT * FROM %s ORDER BY 1 LIMIT %d OFFSET %d`, table, pageSize, offset)
		n, _, err := s.emitPage(ctx, pool, emit, tbl, query, nil)
		if err != nil {
			return err
		}
		if n < pageSize {
			return nil
		}
	}
}

func (s *source) emitPage(ctx context.Context, pool *pgxpool.Pool, emit *sources.Emitter, tbl tableMeta, query string, args []any) (int, map[string]any, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: querying %s: %v", core.ErrTransient, tbl.qualified(), err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var n int
	var lastRaw map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			if skipErr := emit.Skip(ctx, fmt.Errorf("reading row from %s: %w", tbl.qualified(), err)); skipErr != nil {
				return n, lastRaw, skipErr
			}
			continue
		}

		raw := make(map[string]any, len(fields))
		payload := make(map[string]any, len(fields))
		for i, fd := range fields {
			raw[fd.Name] = values[i]
			payload[fd.Name] = normalizeValue(values[i])
		}

		if err := emit.Emit(ctx, s.tableEntity(tbl, payload)); err != nil {
			return n, lastRaw, err
		}
		n++
		lastRaw = raw
	}
	if err := rows.Err(); err != nil {
		return n, lastRaw, fmt.Errorf("%w: reading %s: %v", core.ErrTransient, tbl.qualified(), err)
	}
	return n, lastRaw, nil
}

// timeLayout keeps a fixed-width fraction so watermark strings compare
// lexicographically in chronological order. RFC3339Nano trims trailing
// zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// normalizeValue maps driver values onto JSON-safe payload values. Database
// types that pgx surfaces as structs go through their driver.Valuer form.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(timeLayout)
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	case driver.Valuer:
		out, err := x.Value()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return normalizeValue(out)
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}
