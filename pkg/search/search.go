// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package search answers natural-language questions over a collection. A
// request runs through an operation graph: query expansion, filter
// interpretation, embedding, hybrid retrieval with optional time decay,
// reranking, and a streamed LLM completion. Operations declare their
// dependencies and execute in topological order over a shared state.
package search

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/sparse"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

// Status is the outcome of a search request. Quality gates are statuses,
// not errors: an empty collection is a valid answer.
type Status string

const (
	// StatusSuccess means ranked results were produced.
	StatusSuccess Status = "success"
	// StatusNoResults means retrieval matched nothing.
	StatusNoResults Status = "no_results"
	// StatusNoRelevantResults means every match scored below the relevance
	// floor.
	StatusNoRelevantResults Status = "no_relevant_results"
	// StatusFailed means answer generation failed mid-stream; partial
	// output must not be trusted.
	StatusFailed Status = "failed"
)

// relevanceFloor is the score below which matches are considered noise.
const relevanceFloor = 0.25

// Canonical completions for the quality gates.
const (
	noResultsMessage         = "No results found for your query."
	noRelevantResultsMessage = "No relevant results found for your query."
)

// ExpansionStrategy selects how query variants are generated.
type ExpansionStrategy string

const (
	// ExpansionNone searches the original query only.
	ExpansionNone ExpansionStrategy = "none"
	// ExpansionLLM asks the LLM for paraphrase and synonym variants.
	ExpansionLLM ExpansionStrategy = "llm"
)

// EventType tags streamed search events.
type EventType string

const (
	EventCompletionStart EventType = "completion_start"
	EventCompletionDelta EventType = "completion_delta"
	EventCompletionDone  EventType = "completion_done"
	EventError           EventType = "error"
)

// Event is one streamed pipeline event.
type Event struct {
	Type  EventType `json:"type"`
	Delta string    `json:"delta,omitempty"`
	Error string    `json:"error,omitempty"`
}

// EmitFunc receives streamed events in order.
type EmitFunc func(Event)

// Options tune one search request.
type Options struct {
	Limit          int
	Offset         int
	ScoreThreshold *float64

	// Filter is the caller-supplied payload filter, ANDed with any
	// LLM-interpreted one.
	Filter *vectorstore.Filter

	Expansion     ExpansionStrategy
	MaxExpansions int

	// Interpret enables LLM extraction of structured filters from the
	// query text.
	Interpret bool

	Rerank bool
	Decay  *vectorstore.Decay

	// GenerateAnswer enables the completion stage.
	GenerateAnswer bool

	// Emit streams events during completion. May be nil.
	Emit EmitFunc
}

const (
	defaultLimit        = 10
	maxLimit            = 100
	defaultExpansions   = 4
	rerankCandidateCap  = 250
	rerankHeadroomNum   = 5
	rerankHeadroomDenom = 2
)

func (o *Options) normalize() error {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Limit > maxLimit {
		return fmt.Errorf("%w: limit %d exceeds maximum %d", core.ErrValidation, o.Limit, maxLimit)
	}
	if o.Offset < 0 {
		return fmt.Errorf("%w: negative offset", core.ErrValidation)
	}
	if o.Expansion == "" {
		o.Expansion = ExpansionNone
	}
	if o.MaxExpansions <= 0 {
		o.MaxExpansions = defaultExpansions
	}
	if o.Decay != nil && (o.Decay.Weight < 0 || o.Decay.Weight > 1) {
		return fmt.Errorf("%w: decay weight must be in [0,1]", core.ErrValidation)
	}
	return nil
}

// fetchLimit is how many candidates retrieval pulls per query: the caller's
// window, or rerank headroom of 2.5x capped at 250.
func (o *Options) fetchLimit() int {
	if !o.Rerank {
		return o.Limit + o.Offset
	}
	headroom := o.Limit * rerankHeadroomNum / rerankHeadroomDenom
	return min(headroom, rerankCandidateCap)
}

// Result is one externally visible match. Internal payload fields are
// already stripped.
type Result struct {
	ID       uuid.UUID      `json:"id"`
	EntityID string         `json:"entity_id"`
	Score    float64        `json:"score"`
	Payload  map[string]any `json:"payload"`
}

// Response is the answer to one search request.
type Response struct {
	Status     Status   `json:"status"`
	Results    []Result `json:"results"`
	Completion string   `json:"completion,omitempty"`
}

// State is the shared context threaded through pipeline operations. Each
// operation reads the artifacts of its dependencies and writes its own.
type State struct {
	CollectionID uuid.UUID
	Query        string
	Options      Options

	// Queries is the original query plus expansion variants.
	Queries []string

	// Interpreted is the filter derived from the query text, merged with
	// the caller's filter into Filter.
	Interpreted *vectorstore.Filter
	Filter      *vectorstore.Filter

	// Dense and Sparse are the per-query encodings, positional with
	// Queries.
	Dense  [][]float32
	Sparse []*sparse.Vector

	// Results are raw store results with full payloads; the service strips
	// them at the boundary.
	Results []vectorstore.Result

	Status     Status
	Completion string
}

func (s *State) emit(ev Event) {
	if s.Options.Emit != nil {
		s.Options.Emit(ev)
	}
}
