// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens counts text tokens for chunk sizing and context-window
// packing. It prefers a real tiktoken encoding and degrades to a bytes/4
// heuristic when the encoding is unavailable (offline environments).
package tokens

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/airweave/airweave-go/pkg/logger"
)

// DefaultEncoding matches the OpenAI embedding and chat model families.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// NewCounter returns a tiktoken-backed counter for the given encoding,
// falling back to the heuristic counter if the encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warnf("tiktoken encoding %q unavailable, using heuristic token counts: %v", encoding, err)
		return Heuristic{}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Heuristic approximates token counts as len/4, the usual English-text rule
// of thumb. Overestimates for CJK text, which errs on the safe side for
// window packing.
type Heuristic struct{}

// Count returns the approximate token count.
func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
