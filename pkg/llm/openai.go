// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat API.
type OpenAIProvider struct {
	llm           *openai.LLM
	contextWindow int
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL may be empty for api.openai.com.
	BaseURL string
	APIKey  string
	Model   string

	// ContextWindow in tokens; defaults to 128000.
	ContextWindow int
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	window := cfg.ContextWindow
	if window == 0 {
		window = 128000
	}
	return &OpenAIProvider{llm: client, contextWindow: window}, nil
}

// Complete runs a blocking completion and returns the full response text.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	o := applyOptions(opts)

	resp, err := p.llm.GenerateContent(ctx, toLangchainMessages(messages), callOptions(o)...)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// CompleteStream streams a completion, invoking onDelta per fragment.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, messages []Message, onDelta DeltaFunc, opts ...Option) error {
	o := applyOptions(opts)

	callOpts := append(callOptions(o), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		return onDelta(string(chunk))
	}))

	if _, err := p.llm.GenerateContent(ctx, toLangchainMessages(messages), callOpts...); err != nil {
		return fmt.Errorf("streaming completion failed: %w", err)
	}
	return nil
}

// ContextWindow returns the model token window.
func (p *OpenAIProvider) ContextWindow() int {
	return p.contextWindow
}

func callOptions(o options) []llms.CallOption {
	callOpts := []llms.CallOption{llms.WithMaxTokens(o.maxTokens)}
	if o.hasTemp {
		callOpts = append(callOpts, llms.WithTemperature(o.temperature))
	}
	return callOpts
}

func toLangchainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var typ llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			typ = llms.ChatMessageTypeSystem
		case RoleAssistant:
			typ = llms.ChatMessageTypeAI
		default:
			typ = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(typ, m.Content))
	}
	return out
}
