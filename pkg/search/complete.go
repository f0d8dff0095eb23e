// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airweave/airweave-go/pkg/llm"
	"github.com/airweave/airweave-go/pkg/tokens"
)

const completionSystemPrompt = `You answer questions using only the provided context documents. Cite which
documents support your answer by their number, like [1]. If the context does
not contain the answer, say so plainly instead of guessing.`

// completionMargin is reserved from the model window for the response and
// tokenizer slack when packing context documents.
const completionMargin = 2048

// completion generates a streamed answer grounded in the retrieved results.
// A mid-stream provider failure makes the whole request failed: clients may
// have rendered a partial answer that cannot be trusted.
type completion struct {
	llm     llm.Provider
	counter tokens.Counter
	log     *slog.Logger
}

func (c *completion) Name() string      { return opCompletion }
func (c *completion) Depends() []string { return []string{opRerank} }

func (c *completion) Run(ctx context.Context, s *State) error {
	if !s.Options.GenerateAnswer || c.llm == nil {
		return nil
	}

	// Quality gates answer with their canonical message; the LLM is not
	// consulted about data that is not there.
	switch s.Status {
	case StatusNoResults:
		c.canned(s, noResultsMessage)
		return nil
	case StatusNoRelevantResults:
		c.canned(s, noRelevantResultsMessage)
		return nil
	}

	prompt := c.packPrompt(s)
	s.emit(Event{Type: EventCompletionStart})

	var answer strings.Builder
	err := c.llm.CompleteStream(ctx,
		[]llm.Message{llm.System(completionSystemPrompt), llm.User(prompt)},
		func(delta string) error {
			answer.WriteString(delta)
			s.emit(Event{Type: EventCompletionDelta, Delta: delta})
			return nil
		},
		llm.WithMaxTokens(completionMargin))
	if err != nil {
		// The stream may have emitted deltas already; the error event tells
		// clients to discard them.
		c.log.Error("answer generation failed", "error", err)
		s.emit(Event{Type: EventError, Error: "answer generation failed"})
		s.Status = StatusFailed
		s.Completion = ""
		return nil
	}

	s.Completion = answer.String()
	s.emit(Event{Type: EventCompletionDone})
	return nil
}

func (c *completion) canned(s *State, message string) {
	s.Completion = message
	s.emit(Event{Type: EventCompletionStart})
	s.emit(Event{Type: EventCompletionDelta, Delta: message})
	s.emit(Event{Type: EventCompletionDone})
}

// packPrompt fills the model window with result documents, best first, and
// stops at the window minus the response margin. At least one document is
// always included, truncated if it alone would overflow.
func (c *completion) packPrompt(s *State) string {
	budget := c.llm.ContextWindow() - completionMargin
	if budget < completionMargin {
		budget = completionMargin
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext documents:\n", s.Query)
	spent := c.counter.Count(b.String()) + c.counter.Count(completionSystemPrompt)

	for i, res := range s.Results {
		doc := fmt.Sprintf("\n[%d] %s\n", i+1, resultText(res))
		cost := c.counter.Count(doc)
		if spent+cost > budget {
			if i == 0 {
				// Rough character budget from the remaining tokens; the
				// heuristic 4 bytes per token errs toward shorter.
				b.WriteString(snippet(doc, (budget-spent)*4))
			}
			break
		}
		b.WriteString(doc)
		spent += cost
	}
	return b.String()
}
