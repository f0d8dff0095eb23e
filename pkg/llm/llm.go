// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the chat-completion capability used by the code
// summarizer and the search pipeline, with OpenAI-compatible and Anthropic
// providers.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem carries instructions.
	RoleSystem Role = "system"
	// RoleUser carries the request.
	RoleUser Role = "user"
	// RoleAssistant carries prior model output.
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// DeltaFunc receives streamed completion fragments in order. Returning an
// error aborts the stream.
type DeltaFunc func(delta string) error

// Provider is the chat-completion capability. ContextWindow reports the
// model's token window so callers can pack prompts with a safety margin.
type Provider interface {
	Complete(ctx context.Context, messages []Message, opts ...Option) (string, error)
	CompleteStream(ctx context.Context, messages []Message, onDelta DeltaFunc, opts ...Option) error
	ContextWindow() int
}

type options struct {
	maxTokens   int
	temperature float64
	hasTemp     bool
}

// Option adjusts a single completion call.
type Option func(*options)

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t; o.hasTemp = true }
}

const defaultMaxTokens = 1024

func applyOptions(opts []Option) options {
	o := options{maxTokens: defaultMaxTokens}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// splitSystem separates the system prompt from the conversational turns,
// which Anthropic's API models as a top-level field.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
