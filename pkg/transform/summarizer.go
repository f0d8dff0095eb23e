// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/llm"
)

const (
	summarizerSystemPrompt = "You are a code documentation assistant. " +
		"Summarize the given code in at most two sentences: what it does and what it is for. " +
		"Answer with the summary only."

	// summarizerInputLimit caps how much code is sent per summary request.
	summarizerInputLimit = 6000

	summaryMaxTokens = 150
)

// CodeSummarizer appends an LLM-generated natural-language summary to the
// embeddable text of code chunks, which noticeably improves retrieval of
// code by behavioral queries.
type CodeSummarizer struct {
	provider llm.Provider
}

// NewCodeSummarizer creates a summarizer backed by the given provider.
func NewCodeSummarizer(provider llm.Provider) *CodeSummarizer {
	return &CodeSummarizer{provider: provider}
}

// Name implements the transformer contract.
func (*CodeSummarizer) Name() string { return CodeSummarizerName }

// Apply summarizes one code chunk. Failures bubble up; the engine decides
// whether to fail the entity or the job.
func (s *CodeSummarizer) Apply(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	code := e.EmbeddableText
	if len(code) > summarizerInputLimit {
		code = code[:summarizerInputLimit]
	}

	header := ""
	if e.Code != nil {
		header = fmt.Sprintf("File: %s (%s)\n", e.Code.Path, e.Code.Language)
	}

	summary, err := s.provider.Complete(ctx,
		[]llm.Message{
			llm.System(summarizerSystemPrompt),
			llm.User(header + code),
		},
		llm.WithMaxTokens(summaryMaxTokens),
		llm.WithTemperature(0.2),
	)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", e.EntityID, err)
	}

	out := *e
	if out.Code != nil {
		codeCopy := *out.Code
		codeCopy.Summary = summary
		out.Code = &codeCopy
	}
	out.EmbeddableText = e.EmbeddableText + "\n\nSummary: " + summary
	return []*entity.Entity{&out}, nil
}
