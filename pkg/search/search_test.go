// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/metastore"
	metasqlite "github.com/airweave/airweave-go/pkg/metastore/sqlite"
	"github.com/airweave/airweave-go/pkg/quota"
	"github.com/airweave/airweave-go/pkg/vectorstore"
	"github.com/airweave/airweave-go/pkg/vectorstore/sqlitevec"
)

const testDim = 4

// stubEmbedder maps known texts to fixed unit vectors so test scores are
// exact cosine values instead of hash noise.
type stubEmbedder struct {
	vectors map[string][]float32
}

func axis(i int) []float32 {
	v := make([]float32, testDim)
	v[i] = 1
	return v
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return axis(testDim - 1), nil
}

func (s *stubEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return testDim }
func (s *stubEmbedder) Close() error   { return nil }

// fakeLLM scripts Complete responses in call order and streams a fixed delta
// sequence.
type fakeLLM struct {
	responses []string
	calls     int

	completeErr error
	deltas      []string
	streamErr   error
}

func (f *fakeLLM) Complete(context.Context, []llm.Message, ...llm.Option) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if f.calls >= len(f.responses) {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeLLM) CompleteStream(_ context.Context, _ []llm.Message, onDelta llm.DeltaFunc, _ ...llm.Option) error {
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *fakeLLM) ContextWindow() int { return 8192 }

type env struct {
	service *Service
	store   vectorstore.Store
	stores  *metastore.Stores
	org     core.Organization
	coll    core.Collection
	llm     *fakeLLM
}

func newEnv(t *testing.T, provider *fakeLLM, guard *quota.Guard) *env {
	t.Helper()
	ctx := context.Background()

	db, err := metasqlite.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	storesVal := metasqlite.NewStores(db)
	stores := &storesVal

	vec, err := sqlitevec.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	org := core.Organization{ID: uuid.New(), Name: "acme"}
	require.NoError(t, stores.Organizations.Create(ctx, &org))
	coll := core.Collection{ID: uuid.New(), ReadableID: "acme-docs", Name: "Docs", OrganizationID: org.ID}
	require.NoError(t, stores.Collections.Create(ctx, &coll))
	require.NoError(t, vec.EnsureCollection(ctx, coll.ID, testDim))

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"alpha":             axis(0),
		"alpha variant":     axis(1),
		"alpha from github": axis(0),
		"beta":              axis(1),
	}}

	cfg := ServiceConfig{
		Collections: stores.Collections,
		Store:       vec,
		Embedder:    embedder,
		Quota:       guard,
	}
	if provider != nil {
		cfg.LLM = provider
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)

	return &env{service: svc, store: vec, stores: stores, org: org, coll: coll, llm: provider}
}

// seed inserts one point with a fixed vector and an embeddable text.
func (e *env) seed(t *testing.T, entityID string, vector []float32, text string) {
	t.Helper()
	err := e.store.Upsert(context.Background(), e.coll.ID, []vectorstore.Point{{
		ID:       uuid.New(),
		EntityID: entityID,
		Vector:   vector,
		Payload: map[string]any{
			vectorstore.PayloadEntityID:       entityID,
			vectorstore.PayloadSourceName:     "scripted",
			vectorstore.PayloadEmbeddableText: text,
			"name":                            entityID,
		},
	}})
	require.NoError(t, err)
}

func TestSearchReturnsStrippedResults(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)
	e.seed(t, "doc-1", axis(0), "alpha body")
	e.seed(t, "doc-2", axis(1), "beta body")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha", Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "doc-1", resp.Results[0].EntityID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
	assert.NotContains(t, resp.Results[0].Payload, vectorstore.PayloadEmbeddableText)
	assert.Equal(t, "scripted", resp.Results[0].Payload[vectorstore.PayloadSourceName])
}

func TestSearchUnknownCollectionIsNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)

	_, err := e.service.Search(context.Background(), e.org.ID, "no-such", "alpha", Options{})
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Another org's collection resolves identically to a missing one.
	_, err = e.service.Search(context.Background(), uuid.New(), "acme-docs", "alpha", Options{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSearchEmptyCollectionIsNoResults(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoResults, resp.Status)
	assert.Empty(t, resp.Results)
	assert.Equal(t, noResultsMessage, resp.Completion)
}

func TestSearchBelowRelevanceFloor(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)
	// Orthogonal to the query embedding: cosine 0, below the floor.
	e.seed(t, "doc-1", axis(2), "unrelated")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoRelevantResults, resp.Status)
	assert.Empty(t, resp.Results)
	assert.Equal(t, noRelevantResultsMessage, resp.Completion)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	_, err := e.service.Search(ctx, e.org.ID, "acme-docs", "", Options{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.service.Search(ctx, e.org.ID, "acme-docs", "q", Options{Limit: 101})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.service.Search(ctx, e.org.ID, "acme-docs", "q", Options{Offset: -1})
	assert.ErrorIs(t, err, core.ErrValidation)

	bad := 1.5
	_, err = e.service.Search(ctx, e.org.ID, "acme-docs", "q",
		Options{Decay: &vectorstore.Decay{Field: "updated_at", Weight: bad}})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSearchPagination(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)
	e.seed(t, "doc-1", axis(0), "alpha body")
	e.seed(t, "doc-2", []float32{0.9, 0.1, 0, 0}, "alpha-ish body")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-2", resp.Results[0].EntityID)

	// Offset past the end is an empty page, not an error.
	resp, err = e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Limit: 1, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, StatusSuccess, resp.Status)
}

func TestExpansionBroadensRecall(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{responses: []string{`["alpha variant"]`}}
	e := newEnv(t, provider, nil)
	// Only reachable through the variant's embedding.
	e.seed(t, "doc-1", axis(1), "variant body")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Expansion: ExpansionLLM})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-1", resp.Results[0].EntityID)
}

func TestExpansionFailureDegradesToOriginalQuery(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{completeErr: errors.New("provider down")}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "alpha body")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Expansion: ExpansionLLM})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
}

func TestInterpretationFiltersResults(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{responses: []string{
		`{"conditions": [{"field": "source_name", "equals": "github"}]}`,
	}}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-slack", axis(0), "alpha from slack")

	err := e.store.Upsert(context.Background(), e.coll.ID, []vectorstore.Point{{
		ID:       uuid.New(),
		EntityID: "doc-github",
		Vector:   axis(0),
		Payload: map[string]any{
			vectorstore.PayloadEntityID:   "doc-github",
			vectorstore.PayloadSourceName: "github",
		},
	}})
	require.NoError(t, err)

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs",
		"alpha from github", Options{Interpret: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-github", resp.Results[0].EntityID)
}

func TestCallerFilterAndInterpretedFilterBothApply(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{responses: []string{
		`{"conditions": [{"field": "source_name", "equals": "github"}]}`,
	}}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "alpha")

	// The caller's filter contradicts the interpreted one; conjunction
	// matches nothing.
	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{
			Interpret: true,
			Filter: &vectorstore.Filter{Must: []vectorstore.Condition{
				{Field: vectorstore.PayloadSourceName, Equals: "scripted"},
			}},
		})
	require.NoError(t, err)
	assert.Equal(t, StatusNoResults, resp.Status)
}

func TestRerankReorders(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{responses: []string{`[1, 0]`}}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "first by vector")
	e.seed(t, "doc-2", []float32{0.9, 0.1, 0, 0}, "second by vector")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Rerank: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "doc-2", resp.Results[0].EntityID)
	assert.Equal(t, "doc-1", resp.Results[1].EntityID)
}

func TestRerankFailureKeepsVectorOrder(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{completeErr: errors.New("provider down")}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "first")
	e.seed(t, "doc-2", []float32{0.9, 0.1, 0, 0}, "second")

	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{Rerank: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "doc-1", resp.Results[0].EntityID)
}

func TestCompletionStreams(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{deltas: []string{"Alpha ", "is ", "documented."}}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "alpha body")

	var events []Event
	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{GenerateAnswer: true, Emit: func(ev Event) { events = append(events, ev) }})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "Alpha is documented.", resp.Completion)

	require.Len(t, events, 5)
	assert.Equal(t, EventCompletionStart, events[0].Type)
	assert.Equal(t, "Alpha ", events[1].Delta)
	assert.Equal(t, EventCompletionDone, events[4].Type)
}

func TestCompletionMidStreamFailure(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{deltas: []string{"Alpha "}, streamErr: errors.New("stream cut")}
	e := newEnv(t, provider, nil)
	e.seed(t, "doc-1", axis(0), "alpha body")

	var events []Event
	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{GenerateAnswer: true, Emit: func(ev Event) { events = append(events, ev) }})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, resp.Status)
	assert.Empty(t, resp.Completion)
	require.NotEmpty(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

func TestCompletionForNoResultsUsesCannedMessage(t *testing.T) {
	t.Parallel()
	provider := &fakeLLM{}
	e := newEnv(t, provider, nil)

	var events []Event
	resp, err := e.service.Search(context.Background(), e.org.ID, "acme-docs", "alpha",
		Options{GenerateAnswer: true, Emit: func(ev Event) { events = append(events, ev) }})
	require.NoError(t, err)

	assert.Equal(t, StatusNoResults, resp.Status)
	assert.Equal(t, noResultsMessage, resp.Completion)
	assert.Zero(t, provider.calls, "the LLM is not consulted when there is nothing to ground on")
	require.Len(t, events, 3)
	assert.Equal(t, EventCompletionDelta, events[1].Type)
}

func TestQueryQuotaEnforced(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	guard := quota.New(e.stores.Billing)
	svc, err := NewService(ServiceConfig{
		Collections: e.stores.Collections,
		Store:       e.store,
		Embedder:    &stubEmbedder{vectors: map[string][]float32{"alpha": axis(0)}},
		Quota:       guard,
	})
	require.NoError(t, err)

	zero := int64(0)
	period := core.BillingPeriod{
		ID:             uuid.New(),
		OrganizationID: e.org.ID,
		Status:         core.BillingActive,
		PeriodStart:    time.Now().Add(-time.Hour),
		PeriodEnd:      time.Now().Add(time.Hour),
		MaxQueries:     &zero,
	}
	require.NoError(t, e.stores.Billing.CreatePeriod(ctx, &period))

	_, err = svc.Search(ctx, e.org.ID, "acme-docs", "alpha", Options{})
	assert.ErrorIs(t, err, core.ErrQuotaExceeded)
}

func TestFetchLimitHeadroom(t *testing.T) {
	t.Parallel()

	o := Options{Limit: 10, Rerank: true}
	assert.Equal(t, 25, o.fetchLimit())

	o = Options{Limit: 100, Rerank: true}
	assert.Equal(t, 250, o.fetchLimit())

	o = Options{Limit: 10, Offset: 5}
	assert.Equal(t, 15, o.fetchLimit())
}

func TestApplyRankingDropsBadIndices(t *testing.T) {
	t.Parallel()

	results := []vectorstore.Result{
		{EntityID: "a"}, {EntityID: "b"}, {EntityID: "c"},
	}

	ranked := applyRanking(results, parsed(`[2, 2, 7, 0]`))
	require.NotNil(t, ranked)
	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].EntityID)
	assert.Equal(t, "a", ranked[1].EntityID)
	// Omitted results keep vector order at the tail.
	assert.Equal(t, "b", ranked[2].EntityID)

	assert.Nil(t, applyRanking(results, parsed(`"not an array"`)))
	assert.Nil(t, applyRanking(results, parsed(`[9]`)))
}

func TestJSONBodyStripsFences(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `["a"]`, jsonBody("```json\n[\"a\"]\n```"))
	assert.Equal(t, `["a"]`, jsonBody("```\n[\"a\"]\n```"))
	assert.Equal(t, `["a"]`, jsonBody(`["a"]`))
}

func TestPipelineRejectsCycles(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(nil, cyclicOp{"a", []string{"b"}}, cyclicOp{"b", []string{"a"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewPipeline(nil, cyclicOp{"a", nil}, cyclicOp{"a", nil})
	assert.ErrorIs(t, err, core.ErrValidation)
}

type cyclicOp struct {
	name string
	deps []string
}

func (o cyclicOp) Name() string                      { return o.name }
func (o cyclicOp) Depends() []string                 { return o.deps }
func (o cyclicOp) Run(context.Context, *State) error { return nil }

func parsed(s string) gjson.Result { return gjson.Parse(s) }
