// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transform implements the pipeline transformers: file, code and
// field chunkers, the LLM code summarizer, and the batch embedder stage.
// Every transformer is deterministic with respect to its input, so re-running
// a sync over unchanged data reproduces identical chunk boundaries.
package transform

import (
	"strings"
	"unicode/utf8"

	"github.com/airweave/airweave-go/pkg/tokens"
)

// SplitterConfig controls recursive text splitting.
type SplitterConfig struct {
	// MaxTokens is the chunk budget in tokens (default 512).
	MaxTokens int
	// OverlapTokens is the tail carried into the next chunk (default 50).
	OverlapTokens int
	// Separator is tried before the built-in separator ladder.
	Separator string
}

// TextSpan is one split window.
type TextSpan struct {
	Text  string
	Index int
}

// SplitText splits text into overlapping spans within a token budget. It
// tries separators from coarse to fine (paragraph, line, sentence, word)
// and falls back to rune windows for pathological inputs.
func SplitText(text string, counter tokens.Counter, cfg SplitterConfig) []TextSpan {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if counter == nil {
		counter = tokens.Heuristic{}
	}

	if counter.Count(text) <= cfg.MaxTokens {
		return []TextSpan{{Text: text, Index: 0}}
	}

	separators := []string{"\n\n", "\n", ". ", " ", ""}
	if cfg.Separator != "" {
		separators = append([]string{cfg.Separator}, separators...)
	}

	spans := recursiveSplit(text, separators, counter, cfg.MaxTokens, cfg.OverlapTokens)
	for i := range spans {
		spans[i].Index = i
	}
	return spans
}

func recursiveSplit(text string, separators []string, counter tokens.Counter, maxTokens, overlap int) []TextSpan {
	if counter.Count(text) <= maxTokens {
		return []TextSpan{{Text: text}}
	}

	// Pick the first separator that actually produces segments; the empty
	// separator means rune-window splitting.
	var segments []string
	var usedSep string
	for _, sep := range separators {
		if sep == "" {
			segments = splitByRunes(text, maxTokens*4)
			usedSep = ""
			break
		}
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			segments = parts
			usedSep = sep
			break
		}
	}
	if len(segments) == 0 {
		return []TextSpan{{Text: text}}
	}

	var spans []TextSpan
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if counter.Count(candidate) > maxTokens && current.Len() > 0 {
			spans = append(spans, TextSpan{Text: current.String()})

			// Carry the tail of the flushed chunk into the next one.
			tail := overlapTail(current.String(), overlap*4)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		spans = append(spans, TextSpan{Text: current.String()})
	}
	return spans
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of at most n runes.
func splitByRunes(text string, n int) []string {
	if n <= 0 {
		n = 1
	}
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}

// isTextContent reports whether content looks like text: valid UTF-8 with no
// NUL bytes in the prefix.
func isTextContent(content []byte) bool {
	probe := content
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(probe)
}
