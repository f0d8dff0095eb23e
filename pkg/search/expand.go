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
)

const (
	opExpansion      = "expansion"
	opInterpretation = "interpretation"
	opFilterMerge    = "filter"
	opEmbedding      = "embedding"
	opRetrieval      = "retrieval"
	opRerank         = "rerank"
	opCompletion     = "completion"
)

const expansionPrompt = `You rewrite search queries to improve recall. Given a query, produce up to %d
alternative phrasings: synonyms, reformulations, related terms. Keep each
variant short and self-contained. Respond with a JSON array of strings and
nothing else.`

// expansion generates query variants with the LLM. The original query always
// stays first in the list; on LLM failure search degrades to the original
// query alone rather than failing.
type expansion struct {
	llm llm.Provider
	log *slog.Logger
}

func (e *expansion) Name() string      { return opExpansion }
func (e *expansion) Depends() []string { return nil }

func (e *expansion) Run(ctx context.Context, s *State) error {
	s.Queries = []string{s.Query}
	if s.Options.Expansion != ExpansionLLM || e.llm == nil {
		return nil
	}

	raw, err := e.llm.Complete(ctx,
		[]llm.Message{
			llm.System(fmt.Sprintf(expansionPrompt, s.Options.MaxExpansions)),
			llm.User(s.Query),
		},
		llm.WithMaxTokens(512), llm.WithTemperature(0.7))
	if err != nil {
		e.log.Warn("query expansion failed, searching original query only", "error", err)
		return nil
	}

	seen := map[string]bool{normalizeQuery(s.Query): true}
	for _, v := range gjson.Parse(jsonBody(raw)).Array() {
		variant := strings.TrimSpace(v.String())
		if variant == "" || seen[normalizeQuery(variant)] {
			continue
		}
		seen[normalizeQuery(variant)] = true
		s.Queries = append(s.Queries, variant)
		if len(s.Queries) > s.Options.MaxExpansions {
			break
		}
	}
	return nil
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// jsonBody strips markdown code fences that chat models wrap JSON in.
func jsonBody(raw string) string {
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "```json"); ok {
		raw = after
	} else if after, ok := strings.CutPrefix(raw, "```"); ok {
		raw = after
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
