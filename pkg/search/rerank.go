// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

const rerankPrompt = `You rank search results by relevance to a query. You are given a query and a
numbered list of documents. Respond with a JSON array of document numbers
ordered from most to least relevant, e.g. [2,0,1]. Include every number
exactly once. Respond with JSON only.`

// rerankSnippet caps how much of each document the listwise prompt carries.
const rerankSnippet = 600

// rerank reorders the retrieved candidates with a listwise LLM pass. Vector
// order is the fallback whenever the LLM fails or returns an unusable
// permutation; reranking may only reorder, never lose or invent results.
type rerank struct {
	llm llm.Provider
	log *slog.Logger
}

func (r *rerank) Name() string      { return opRerank }
func (r *rerank) Depends() []string { return []string{opRetrieval} }

func (r *rerank) Run(ctx context.Context, s *State) error {
	if !s.Options.Rerank || r.llm == nil || s.Status != StatusSuccess || len(s.Results) < 2 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nDocuments:\n", s.Query)
	for i, res := range s.Results {
		fmt.Fprintf(&b, "[%d] %s\n", i, snippet(resultText(res), rerankSnippet))
	}

	raw, err := r.llm.Complete(ctx,
		[]llm.Message{llm.System(rerankPrompt), llm.User(b.String())},
		llm.WithMaxTokens(1024), llm.WithTemperature(0))
	if err != nil {
		r.log.Warn("rerank failed, keeping vector order", "error", err)
		return nil
	}

	ranked := applyRanking(s.Results, gjson.Parse(jsonBody(raw)))
	if ranked == nil {
		r.log.Warn("rerank returned unusable ranking, keeping vector order")
		return nil
	}
	s.Results = ranked
	return nil
}

// applyRanking permutes results by the LLM's index list. Indices out of range
// or repeated are dropped; results the LLM omitted keep their relative vector
// order at the tail. Returns nil when the response holds no valid index.
func applyRanking(results []vectorstore.Result, ranking gjson.Result) []vectorstore.Result {
	if !ranking.IsArray() {
		return nil
	}
	used := make([]bool, len(results))
	out := make([]vectorstore.Result, 0, len(results))
	for _, v := range ranking.Array() {
		i := int(v.Int())
		if i < 0 || i >= len(results) || used[i] {
			continue
		}
		used[i] = true
		out = append(out, results[i])
	}
	if len(out) == 0 {
		return nil
	}
	for i, r := range results {
		if !used[i] {
			out = append(out, r)
		}
	}
	return out
}

func resultText(r vectorstore.Result) string {
	if text, ok := r.Payload[vectorstore.PayloadEmbeddableText].(string); ok && text != "" {
		return text
	}
	if name, ok := r.Payload["name"].(string); ok {
		return name
	}
	return r.EntityID
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
