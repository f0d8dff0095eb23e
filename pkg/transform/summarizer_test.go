// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/llm"
)

type fakeLLM struct {
	messages []llm.Message
	reply    string
	err      error
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ ...llm.Option) (string, error) {
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, messages []llm.Message, onDelta llm.DeltaFunc, opts ...llm.Option) error {
	reply, err := f.Complete(ctx, messages, opts...)
	if err != nil {
		return err
	}
	return onDelta(reply)
}

func (f *fakeLLM) ContextWindow() int { return 8192 }

func TestCodeSummarizerAppendsSummary(t *testing.T) {
	t.Parallel()

	provider := &fakeLLM{reply: "Adds two integers."}
	s := NewCodeSummarizer(provider)

	e := &entity.Entity{
		EntityID:       "chunk-1",
		Kind:           entity.KindChunk,
		EmbeddableText: "util.py (lines 1-2)\n\ndef add(a, b):\n    return a + b",
		Code:           &entity.Code{Path: "util.py", Language: "python"},
	}

	out, err := s.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.True(t, strings.HasSuffix(got.EmbeddableText, "\n\nSummary: Adds two integers."))
	assert.Equal(t, "Adds two integers.", got.Code.Summary)

	// The input entity is left untouched.
	assert.Empty(t, e.Code.Summary)
	assert.False(t, strings.Contains(e.EmbeddableText, "Summary:"))

	// Prompt shape: system instruction plus the code with a file header.
	require.Len(t, provider.messages, 2)
	assert.Equal(t, llm.RoleSystem, provider.messages[0].Role)
	assert.Equal(t, llm.RoleUser, provider.messages[1].Role)
	assert.Contains(t, provider.messages[1].Content, "File: util.py (python)")
	assert.Contains(t, provider.messages[1].Content, "def add")
}

func TestCodeSummarizerTruncatesLongInput(t *testing.T) {
	t.Parallel()

	provider := &fakeLLM{reply: "Big file."}
	s := NewCodeSummarizer(provider)

	e := &entity.Entity{
		EntityID:       "chunk-2",
		EmbeddableText: strings.Repeat("x", summarizerInputLimit+5000),
	}

	_, err := s.Apply(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, provider.messages, 2)
	assert.Len(t, provider.messages[1].Content, summarizerInputLimit)
}

func TestCodeSummarizerPropagatesError(t *testing.T) {
	t.Parallel()

	provider := &fakeLLM{err: errors.New("model overloaded")}
	s := NewCodeSummarizer(provider)

	e := &entity.Entity{EntityID: "chunk-3", EmbeddableText: "code"}
	_, err := s.Apply(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk-3")
	assert.Contains(t, err.Error(), "model overloaded")
}
