// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/tokens"
)

func TestSplitTextPassthroughWhenSmall(t *testing.T) {
	t.Parallel()

	spans := SplitText("short text", tokens.Heuristic{}, SplitterConfig{MaxTokens: 512})
	require.Len(t, spans, 1)
	assert.Equal(t, "short text", spans[0].Text)
	assert.Equal(t, 0, spans[0].Index)
}

func TestSplitTextSplitsLongText(t *testing.T) {
	t.Parallel()

	paragraphs := make([]string, 12)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("lorem ipsum dolor sit amet ", 10)
	}
	text := strings.Join(paragraphs, "\n\n")

	spans := SplitText(text, tokens.Heuristic{}, SplitterConfig{MaxTokens: 128, OverlapTokens: 10})
	require.Greater(t, len(spans), 1)

	counter := tokens.Heuristic{}
	for i, s := range spans {
		assert.Equal(t, i, s.Index)
		// Chunks can exceed the budget only via the overlap carry.
		assert.LessOrEqual(t, counter.Count(s.Text), 128+2*10)
		assert.NotEmpty(t, s.Text)
	}
}

func TestSplitTextDeterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("sentence one. sentence two. sentence three. ", 100)
	cfg := SplitterConfig{MaxTokens: 64, OverlapTokens: 8}

	a := SplitText(text, tokens.Heuristic{}, cfg)
	b := SplitText(text, tokens.Heuristic{}, cfg)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Text, b[i].Text)
	}
}

func TestSplitTextOverlapCarriesTail(t *testing.T) {
	t.Parallel()

	words := make([]string, 400)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	spans := SplitText(text, tokens.Heuristic{}, SplitterConfig{MaxTokens: 50, OverlapTokens: 5})
	require.Greater(t, len(spans), 1)

	// The second span starts with the tail of the first.
	tail := overlapTail(spans[0].Text, 5*4)
	assert.True(t, strings.HasPrefix(spans[1].Text, tail))
}

func TestSplitTextNoSeparators(t *testing.T) {
	t.Parallel()

	// One long unbroken token run forces rune-window splitting.
	text := strings.Repeat("x", 5000)
	spans := SplitText(text, tokens.Heuristic{}, SplitterConfig{MaxTokens: 100})
	require.Greater(t, len(spans), 1)
	var total int
	for _, s := range spans {
		total += len(s.Text)
	}
	assert.GreaterOrEqual(t, total, len(text))
}

func TestIsTextContent(t *testing.T) {
	t.Parallel()

	assert.True(t, isTextContent([]byte("plain old text\nwith lines")))
	assert.False(t, isTextContent([]byte{0x89, 'P', 'N', 'G', 0x00, 0x1a}))
	assert.False(t, isTextContent([]byte{'a', 'b', 0x00, 'c'}))
}
