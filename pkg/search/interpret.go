// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/vectorstore"
)

const interpretPrompt = `You extract structured filters from search queries. The data is indexed with
these payload fields: source_name (string), created_at (RFC 3339 datetime),
updated_at (RFC 3339 datetime).

If the query constrains any of these, respond with a JSON object:
  {"conditions": [{"field": "...", "equals": ..., "any_of": [...], "gte": ..., "lte": ...}]}
Each condition sets exactly one of equals, any_of, or a gte/lte range. If the
query carries no such constraint, respond with {"conditions": []}. Respond
with JSON only. Only extract constraints you are confident about; a wrong
filter hides correct results.`

// interpretation asks the LLM to turn natural-language constraints ("in the
// last week", "from slack") into payload conditions. Best effort: failures
// and unparsable responses fall back to no interpreted filter.
type interpretation struct {
	llm llm.Provider
	log *slog.Logger
}

func (i *interpretation) Name() string      { return opInterpretation }
func (i *interpretation) Depends() []string { return nil }

func (i *interpretation) Run(ctx context.Context, s *State) error {
	if !s.Options.Interpret || i.llm == nil {
		return nil
	}

	raw, err := i.llm.Complete(ctx,
		[]llm.Message{llm.System(interpretPrompt), llm.User(s.Query)},
		llm.WithMaxTokens(512), llm.WithTemperature(0))
	if err != nil {
		i.log.Warn("query interpretation failed, searching unfiltered", "error", err)
		return nil
	}

	conds := gjson.Get(jsonBody(raw), "conditions")
	if !conds.IsArray() {
		i.log.Warn("query interpretation returned no conditions array")
		return nil
	}

	var filter vectorstore.Filter
	for _, c := range conds.Array() {
		cond := vectorstore.Condition{Field: c.Get("field").String()}
		if cond.Field == "" {
			continue
		}
		if eq := c.Get("equals"); eq.Exists() {
			cond.Equals = eq.Value()
		}
		if anyOf := c.Get("any_of"); anyOf.IsArray() {
			for _, v := range anyOf.Array() {
				cond.AnyOf = append(cond.AnyOf, v.Value())
			}
		}
		if gte := c.Get("gte"); gte.Exists() {
			cond.GTE = gte.Value()
		}
		if lte := c.Get("lte"); lte.Exists() {
			cond.LTE = lte.Value()
		}
		filter.Must = append(filter.Must, cond)
	}
	if len(filter.Must) > 0 {
		s.Interpreted = &filter
	}
	return nil
}

// filterMerge conjoins the caller-supplied filter with the interpreted one.
// Both constrain: a result must satisfy every condition from both sources.
type filterMerge struct{}

func (filterMerge) Name() string      { return opFilterMerge }
func (filterMerge) Depends() []string { return []string{opInterpretation} }

func (filterMerge) Run(_ context.Context, s *State) error {
	s.Filter = vectorstore.MergeFilters(s.Options.Filter, s.Interpreted)
	return nil
}
