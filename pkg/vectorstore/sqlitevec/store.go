// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlitevec implements the vector store capability on SQLite. Dense
// similarity is brute-force cosine over embedding blobs, the keyword leg
// uses FTS5 with BM25 ranking, and optional client-side sparse vectors add a
// third scoring signal. Hybrid scores keep the best leg per point.
package sqlitevec

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/airweave/airweave-go/pkg/sparse"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultLimit = 10

	// maxKeywordCandidates caps how many FTS5 matches feed the keyword leg.
	maxKeywordCandidates = 256
)

// Store is a SQLite-backed vectorstore.Store. A single database holds every
// collection namespace; rows are partitioned by collection id.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Store = (*Store)(nil)

// New opens (or creates) a store at the given DSN and applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewInMemory creates an isolated in-memory store. The shared-cache named
// database keeps all pooled connections on the same data.
func NewInMemory() (*Store, error) {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	return New(fmt.Sprintf("file:vec_%s?mode=memory&cache=shared", name))
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureCollection registers a namespace and its vector dimension.
func (s *Store) EnsureCollection(ctx context.Context, collectionID uuid.UUID, dimension int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (collection_id, dimension) VALUES (?, ?)
		 ON CONFLICT(collection_id) DO UPDATE SET dimension = excluded.dimension`,
		collectionID.String(), dimension)
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", collectionID, err)
	}
	return nil
}

// Collections lists every namespace that is registered or holds points.
func (s *Store) Collections(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection_id FROM collections
		 UNION SELECT collection_id FROM points`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan collection id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count reports the number of points in a namespace.
func (s *Store) Count(ctx context.Context, collectionID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE collection_id = ?`,
		collectionID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

// Upsert inserts or overwrites points by id.
func (s *Store) Upsert(ctx context.Context, collectionID uuid.UUID, points []vectorstore.Point) (retErr error) {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO points (id, collection_id, entity_id, payload, embedding, sparse, embeddable_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   collection_id = excluded.collection_id,
		   entity_id = excluded.entity_id,
		   payload = excluded.payload,
		   embedding = excluded.embedding,
		   sparse = excluded.sparse,
		   embeddable_text = excluded.embeddable_text`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		payloadJSON, err := marshalPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", p.ID, err)
		}

		var embedding any
		if len(p.Vector) > 0 {
			embedding = encodeEmbedding(p.Vector)
		}

		var sparseJSON any
		if p.Sparse != nil {
			b, err := json.Marshal(p.Sparse)
			if err != nil {
				return fmt.Errorf("marshal sparse vector for %s: %w", p.ID, err)
			}
			sparseJSON = string(b)
		}

		embeddableText, _ := p.Payload[vectorstore.PayloadEmbeddableText].(string)

		if _, err := stmt.ExecContext(ctx,
			p.ID.String(), collectionID.String(), p.EntityID,
			payloadJSON, embedding, sparseJSON, embeddableText); err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes points by id within a namespace.
func (s *Store) Delete(ctx context.Context, collectionID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	idsJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal point ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM points
		 WHERE collection_id = ? AND id IN (SELECT value FROM json_each(?))`,
		collectionID.String(), string(idsJSON))
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// DeleteByFilter removes every point in the namespace whose payload matches
// the filter. A nil filter clears the namespace.
func (s *Store) DeleteByFilter(ctx context.Context, collectionID uuid.UUID, filter *vectorstore.Filter) error {
	if filter == nil || len(filter.Must) == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM points WHERE collection_id = ?`, collectionID.String())
		if err != nil {
			return fmt.Errorf("delete points: %w", err)
		}
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM points WHERE collection_id = ?`, collectionID.String())
	if err != nil {
		return fmt.Errorf("scan points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []uuid.UUID
	for rows.Next() {
		var rawID, payloadJSON string
		if err := rows.Scan(&rawID, &payloadJSON); err != nil {
			return fmt.Errorf("scan point: %w", err)
		}
		if !matchesFilter(payloadJSON, filter) {
			continue
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		matched = append(matched, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return s.Delete(ctx, collectionID, matched)
}

// DeleteCollection removes the namespace and all its points.
func (s *Store) DeleteCollection(ctx context.Context, collectionID uuid.UUID) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM points WHERE collection_id = ?`, collectionID.String()); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collections WHERE collection_id = ?`, collectionID.String()); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return tx.Commit()
}

type candidate struct {
	id        uuid.UUID
	entityID  string
	payload   string
	score     float64
	decayTime time.Time
	hasTime   bool
}

// Search runs one hybrid retrieval over a namespace.
func (s *Store) Search(ctx context.Context, collectionID uuid.UUID, params vectorstore.SearchParams) ([]vectorstore.Result, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	kwScores, err := s.keywordScores(ctx, collectionID, params.Text)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, payload, embedding, sparse
		 FROM points WHERE collection_id = ?`, collectionID.String())
	if err != nil {
		return nil, fmt.Errorf("scan points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cands []candidate
	var oldest, newest time.Time
	for rows.Next() {
		var rawID, entityID, payloadJSON string
		var embBlob []byte
		var sparseJSON sql.NullString
		if err := rows.Scan(&rawID, &entityID, &payloadJSON, &embBlob, &sparseJSON); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}

		if !matchesFilter(payloadJSON, params.Filter) {
			continue
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}

		c := candidate{id: id, entityID: entityID, payload: payloadJSON}

		scored := false
		if len(params.Vector) > 0 && len(embBlob) > 0 {
			c.score = cosineSimilarity(params.Vector, decodeEmbedding(embBlob))
			scored = true
		}
		if params.Sparse != nil && sparseJSON.Valid {
			var doc sparse.Vector
			if err := json.Unmarshal([]byte(sparseJSON.String), &doc); err == nil {
				if sim := sparseSimilarity(params.Sparse, &doc); !scored || sim > c.score {
					c.score = sim
					scored = true
				}
			}
		}
		if kw, ok := kwScores[rawID]; ok && (!scored || kw > c.score) {
			c.score = kw
		}

		if params.Decay != nil {
			if t, ok := payloadTime(payloadJSON, params.Decay.Field); ok {
				c.decayTime = t
				c.hasTime = true
				if oldest.IsZero() || t.Before(oldest) {
					oldest = t
				}
				if newest.IsZero() || t.After(newest) {
					newest = t
				}
			}
		}

		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	applyDecay(cands, params.Decay, oldest, newest)

	if params.ScoreThreshold != nil {
		kept := cands[:0]
		for _, c := range cands {
			if c.score >= *params.ScoreThreshold {
				kept = append(kept, c)
			}
		}
		cands = kept
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].entityID < cands[j].entityID
	})

	if params.Offset >= len(cands) {
		return nil, nil
	}
	cands = cands[params.Offset:]
	if len(cands) > limit {
		cands = cands[:limit]
	}

	results := make([]vectorstore.Result, 0, len(cands))
	for _, c := range cands {
		var payload map[string]any
		if err := json.Unmarshal([]byte(c.payload), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", c.id, err)
		}
		results = append(results, vectorstore.Result{
			ID:       c.id,
			EntityID: c.entityID,
			Score:    c.score,
			Payload:  payload,
		})
	}
	return results, nil
}

// BulkSearch runs the queries concurrently; result batches are positional.
func (s *Store) BulkSearch(ctx context.Context, collectionID uuid.UUID, queries []vectorstore.SearchParams) ([][]vectorstore.Result, error) {
	results := make([][]vectorstore.Result, len(queries))

	g, gCtx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			batch, err := s.Search(gCtx, collectionID, q)
			if err != nil {
				return err
			}
			results[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// keywordScores runs the FTS5 leg and maps point id to a normalized BM25
// similarity. An empty query yields no keyword scores.
func (s *Store) keywordScores(ctx context.Context, collectionID uuid.UUID, text string) (map[string]float64, error) {
	expr := sanitizeFTS5Query(text)
	if expr == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, fts.rank
		 FROM points_fts fts
		 JOIN points p ON p.rowid = fts.rowid
		 WHERE points_fts MATCH ? AND p.collection_id = ?
		 ORDER BY rank
		 LIMIT ?`,
		expr, collectionID.String(), maxKeywordCandidates)
	if err != nil {
		return nil, fmt.Errorf("FTS5 query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scan FTS5 row: %w", err)
		}
		scores[id] = bm25Similarity(rank)
	}
	return scores, rows.Err()
}

// applyDecay modulates candidate scores by linear recency over the observed
// [oldest, newest] span. Points without the datetime field keep their score.
func applyDecay(cands []candidate, decay *vectorstore.Decay, oldest, newest time.Time) {
	if decay == nil || decay.Weight <= 0 || oldest.IsZero() || !newest.After(oldest) {
		return
	}
	w := decay.Weight
	if w > 1 {
		w = 1
	}
	span := newest.Sub(oldest).Seconds()
	for i := range cands {
		if !cands[i].hasTime {
			continue
		}
		recency := cands[i].decayTime.Sub(oldest).Seconds() / span
		cands[i].score *= (1 - w) + w*recency
	}
}

// sanitizeFTS5Query turns free text into an FTS5 MATCH expression. Each term
// is double-quoted with embedded quotes escaped, so user input cannot inject
// FTS5 operators; the expression itself is always bound as a ? parameter.
func sanitizeFTS5Query(query string) string {
	words := strings.Fields(strings.TrimSpace(query))
	if len(words) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(words))
	for _, w := range words {
		escaped := strings.ReplaceAll(w, `"`, `""`)
		if escaped == "" {
			continue
		}
		quoted = append(quoted, `"`+escaped+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// bm25Similarity maps an FTS5 rank (negative BM25, lower is better) onto
// (0, 1), comparable with cosine similarity.
func bm25Similarity(rank float64) float64 {
	raw := -rank
	if raw < 0 {
		raw = 0
	}
	return raw / (raw + 1)
}

// sparseSimilarity normalizes an unbounded sparse dot product onto [0, 1).
func sparseSimilarity(query, doc *sparse.Vector) float64 {
	dot := float64(sparse.Dot(query, doc))
	if dot <= 0 {
		return 0
	}
	return dot / (dot + 1)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeEmbedding serializes a float32 slice to a little-endian byte slice.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian byte slice to a float32 slice.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
