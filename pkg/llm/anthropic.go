// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client        anthropic.Client
	model         anthropic.Model
	contextWindow int
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	Model  string

	// ContextWindow in tokens; defaults to 200000.
	ContextWindow int
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	window := cfg.ContextWindow
	if window == 0 {
		window = 200000
	}

	return &AnthropicProvider{
		client:        anthropic.NewClient(opts...),
		model:         anthropic.Model(cfg.Model),
		contextWindow: window,
	}, nil
}

// Complete runs a blocking completion and returns the full response text.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	o := applyOptions(opts)

	msg, err := p.client.Messages.New(ctx, p.params(messages, o))
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// CompleteStream streams a completion, invoking onDelta per text fragment.
func (p *AnthropicProvider) CompleteStream(ctx context.Context, messages []Message, onDelta DeltaFunc, opts ...Option) error {
	o := applyOptions(opts)

	stream := p.client.Messages.NewStreaming(ctx, p.params(messages, o))
	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if err := onDelta(deltaVariant.Text); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming completion failed: %w", err)
	}
	return nil
}

// ContextWindow returns the model token window.
func (p *AnthropicProvider) ContextWindow() int {
	return p.contextWindow
}

func (p *AnthropicProvider) params(messages []Message, o options) anthropic.MessageNewParams {
	system, rest := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(o.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if o.hasTemp {
		params.Temperature = anthropic.Float(o.temperature)
	}

	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}
